package models

// ICEServer is one relay/traversal server descriptor as served by the
// credentials endpoint and consumed by the transport link establisher.
type ICEServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}
