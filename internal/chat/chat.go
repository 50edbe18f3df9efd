// Package chat defines the structured chat document stored inside a backup
// bundle. The remote system exports one JSON document per chat; the same
// shape is persisted locally as chat_<id>.json.
package chat

// Export is the top-level document of a backup bundle's JSON file.
type Export struct {
	Chat *Chat `json:"chat"`
}

// Chat holds the metadata and message history of one closed conversation.
type Chat struct {
	ClientName   string    `json:"clientName,omitempty"`
	ClientNumber string    `json:"clientNumber,omitempty"`
	ClientID     string    `json:"clientId,omitempty"`
	BeginTime    string    `json:"beginTime,omitempty"`
	EndTime      string    `json:"endTime,omitempty"`
	Status       string    `json:"status,omitempty"`
	Metadata     *Metadata `json:"metadata,omitempty"`
	Messages     []Message `json:"messages"`
}

// Metadata carries export bookkeeping written by the remote system.
type Metadata struct {
	ExportedAt string `json:"exportedAt,omitempty"`
}

// Message directions.
const (
	DirectionIn     = "in"
	DirectionOut    = "out"
	DirectionSystem = "system"
)

// Message is one entry of a chat's ordered message sequence.
type Message struct {
	ID        int    `json:"id,omitempty"`
	Direction string `json:"direction"`
	Text      string `json:"text,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	File      *File  `json:"file,omitempty"`
}

// File is an attachment reference carried by a message.
type File struct {
	FileName string `json:"fileName"`
}
