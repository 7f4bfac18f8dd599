// Package chat defines the contract between the ticketing core and the
// chat service it bridges: the object model (users, channels, messages,
// embeds) and the Client/Directory interfaces a concrete transport must
// implement. An in-memory implementation is provided for tests and
// dry-run operation.
package chat

import (
	"fmt"
	"time"
)

// User identifies an account on the chat service.
type User struct {
	// ID is the stable numeric identity of the account.
	ID int64 `json:"id"`

	// Name is the account's display name.
	Name string `json:"name"`

	// Discriminator disambiguates accounts sharing a display name.
	Discriminator string `json:"discriminator"`

	// AvatarURL points at the account's avatar image.
	AvatarURL string `json:"avatar_url"`

	// Bot is true for service-owned accounts.
	Bot bool `json:"bot"`

	// CreatedAt is when the account was registered.
	CreatedAt time.Time `json:"created_at"`
}

// String renders the canonical name#discriminator form.
func (u *User) String() string {
	if u.Discriminator == "" {
		return u.Name
	}
	return u.Name + "#" + u.Discriminator
}

// Mention renders the service's inline-mention syntax for the user.
func (u *User) Mention() string {
	return fmt.Sprintf("<@%d>", u.ID)
}

// Member is a User enriched with per-guild metadata.
type Member struct {
	User

	// Nick is the guild-local nickname, if set.
	Nick string `json:"nick"`

	// Roles are the member's role names, lowest position first.
	Roles []string `json:"roles"`

	// JoinedAt is when the member joined the guild.
	JoinedAt time.Time `json:"joined_at"`
}

// TopRole returns the member's highest-positioned role, or "" if none.
func (m *Member) TopRole() string {
	if len(m.Roles) == 0 {
		return ""
	}
	return m.Roles[len(m.Roles)-1]
}

// Channel is a staff-side conversation channel.
type Channel struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Topic     string    `json:"topic"`
	Category  string    `json:"category"`
	CreatedAt time.Time `json:"created_at"`
}

// Attachment is a file carried by a message.
type Attachment struct {
	URL      string `json:"url"`
	Filename string `json:"filename"`
}

// Message is a message observed on or delivered to the chat service.
type Message struct {
	ID          int64        `json:"id"`
	ChannelID   int64        `json:"channel_id"`
	Author      User         `json:"author"`
	Content     string       `json:"content"`
	Attachments []Attachment `json:"attachments,omitempty"`
	Embeds      []*Embed     `json:"embeds,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`

	// JumpURL is a permalink to the message at its origin.
	JumpURL string `json:"jump_url,omitempty"`
}

// EmbedAuthor is the author block of an embed.
type EmbedAuthor struct {
	Name    string `json:"name"`
	IconURL string `json:"icon_url,omitempty"`
	URL     string `json:"url,omitempty"`
}

// EmbedFooter is the footer block of an embed.
type EmbedFooter struct {
	Text    string `json:"text"`
	IconURL string `json:"icon_url,omitempty"`
}

// EmbedField is a titled value rendered inside an embed.
type EmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

// Embed is a rich message body.
type Embed struct {
	Title       string       `json:"title,omitempty"`
	Description string       `json:"description,omitempty"`
	URL         string       `json:"url,omitempty"`
	Color       int          `json:"color,omitempty"`
	Timestamp   time.Time    `json:"timestamp,omitzero"`
	Author      *EmbedAuthor `json:"author,omitempty"`
	Footer      *EmbedFooter `json:"footer,omitempty"`
	ImageURL    string       `json:"image_url,omitempty"`
	Fields      []EmbedField `json:"fields,omitempty"`
}

// AddField appends a field to the embed.
func (e *Embed) AddField(name, value string) {
	e.Fields = append(e.Fields, EmbedField{Name: name, Value: value})
}

// Destination addresses an outgoing message: either a channel or a
// user's direct-message surface. Exactly one of the two is set.
type Destination struct {
	ChannelID int64
	UserID    int64
}

// ToChannel addresses a channel.
func ToChannel(id int64) Destination {
	return Destination{ChannelID: id}
}

// ToUser addresses a user's direct messages.
func ToUser(id int64) Destination {
	return Destination{UserID: id}
}

// Direct reports whether the destination is a user's direct messages.
func (d Destination) Direct() bool {
	return d.UserID != 0
}

func (d Destination) String() string {
	if d.Direct() {
		return fmt.Sprintf("user:%d", d.UserID)
	}
	return fmt.Sprintf("channel:%d", d.ChannelID)
}
