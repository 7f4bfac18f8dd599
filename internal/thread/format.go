package thread

import (
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/threadmail/threadmail/internal/chat"
)

// Embed colors used when no configured value applies.
const (
	colorError = 0xE74C3C
	colorNote  = 0x7289DA
	colorReady = 0x2ECC71
)

// systemAvatarURL identifies synthetic authors (notes) in relay embeds.
const systemAvatarURL = "https://threadmail.dev/assets/system.png"

// topicPrefix is the channel-topic encoding of the thread's user id,
// the primary recovery artifact for cold-cache lookups.
const topicPrefix = "User ID: "

var userIDPattern = regexp.MustCompile(`User ID: (\d+)`)

// inlineURLPattern finds bare links in message text for the inline
// image scan.
var inlineURLPattern = regexp.MustCompile(`http[s]?://(?:[a-zA-Z0-9]|[$-_@.&+]|[!*(),]|(?:%[0-9a-fA-F][0-9a-fA-F]))+`)

// asciiPunct mirrors the punctuation set stripped from channel slugs.
const asciiPunct = "!\"#$%&'()*+,-./:;<=>?@[\\]^_`{|}~"

// channelTopic renders the topic bound to a thread channel.
func channelTopic(userID int64) string {
	return fmt.Sprintf("%s%d", topicPrefix, userID)
}

// matchUserID extracts a user id from topic or footer text; 0 if none.
func matchUserID(text string) int64 {
	m := userIDPattern.FindStringSubmatch(text)
	if m == nil {
		return 0
	}
	var id int64
	if _, err := fmt.Sscanf(m[1], "%d", &id); err != nil {
		return 0
	}
	return id
}

// formatChannelName sanitizes a user's display name into a channel
// slug that is unique among existing channel names: lowercased, ASCII
// punctuation and non-printables stripped, "null" when nothing
// survives, discriminator suffixed, then "-x" appended until unique.
func formatChannelName(user *chat.User, existing map[string]bool) string {
	lowered := strings.ToLower(user.Name)

	var b strings.Builder
	for _, r := range lowered {
		if strings.ContainsRune(asciiPunct, r) || !unicode.IsPrint(r) {
			continue
		}
		b.WriteRune(r)
	}
	name := b.String()
	if name == "" {
		name = "null"
	}
	name += "-" + user.Discriminator

	for existing[name] {
		name += "-x"
	}
	return name
}

// imageRef is a candidate for image embedding. Genuine uploads carry a
// filename; links scanned out of message text do not.
type imageRef struct {
	URL      string
	Filename string
}

var imageExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
	".webp": true,
	".bmp":  true,
}

// isImageURL sniffs image-ness from the filename when present,
// otherwise from the URL path's extension.
func isImageURL(url, filename string) bool {
	target := filename
	if target == "" {
		target = url
		if i := strings.IndexAny(target, "?#"); i >= 0 {
			target = target[:i]
		}
	}
	return imageExtensions[strings.ToLower(path.Ext(target))]
}

// classifyAttachments partitions a message's attachments into images
// and plain files, merging image links scanned from the text into the
// image set (after all uploads).
func classifyAttachments(msg *chat.Message) (images []imageRef, files []chat.Attachment) {
	for _, att := range msg.Attachments {
		if isImageURL(att.URL, att.Filename) {
			images = append(images, imageRef{URL: att.URL, Filename: att.Filename})
		} else {
			files = append(files, att)
		}
	}
	for _, link := range inlineURLPattern.FindAllString(msg.Content, -1) {
		if isImageURL(link, "") {
			images = append(images, imageRef{URL: link})
		}
	}
	return images, files
}

// relayStyle carries the presentation decisions Send computes before
// building the outgoing embeds.
type relayStyle struct {
	AuthorName string
	AuthorIcon string
	Color      int
	Footer     string
}

// buildRelayEmbeds constructs the primary relay embed plus one
// secondary embed per extra image upload. Exactly one image is inlined
// in the primary embed: the first genuine upload, or the first scanned
// link when there are no uploads. Extra scanned links are dropped;
// extra uploads become "Additional Image Upload (N)" embeds. Non-image
// attachments become numbered link fields on the primary embed.
func buildRelayEmbeds(msg *chat.Message, style relayStyle, now time.Time) (*chat.Embed, []*chat.Embed) {
	timestamp := msg.CreatedAt
	if timestamp.IsZero() {
		timestamp = now
	}

	primary := &chat.Embed{
		Description: msg.Content,
		Timestamp:   timestamp,
		Color:       style.Color,
		Author: &chat.EmbedAuthor{
			Name:    style.AuthorName,
			IconURL: style.AuthorIcon,
			URL:     msg.JumpURL,
		},
	}
	if style.Footer != "" {
		primary.Footer = &chat.EmbedFooter{Text: style.Footer}
	}

	images, files := classifyAttachments(msg)

	uploads := 0
	for _, img := range images {
		if img.Filename != "" {
			uploads++
		}
	}

	var additional []*chat.Embed
	embedded := false
	additionalCount := 1
	for _, img := range images {
		isUpload := img.Filename != ""
		switch {
		case !embedded && (isUpload || uploads == 0):
			primary.ImageURL = img.URL
			if isUpload {
				primary.AddField("Image", fmt.Sprintf("[%s](%s)", img.Filename, img.URL))
			}
			embedded = true
		case isUpload:
			extra := &chat.Embed{
				Title:     img.Filename,
				URL:       img.URL,
				ImageURL:  img.URL,
				Color:     style.Color,
				Timestamp: timestamp,
				Footer:    &chat.EmbedFooter{Text: fmt.Sprintf("Additional Image Upload (%d)", additionalCount)},
			}
			additional = append(additional, extra)
			additionalCount++
		}
	}

	for i, att := range files {
		primary.AddField(
			fmt.Sprintf("File upload (%d)", i+1),
			fmt.Sprintf("[%s](%s)", att.Filename, att.URL),
		)
	}

	return primary, additional
}

// truncate shortens s to max runes, on a word boundary where possible,
// appending an ellipsis when cut.
func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	cut := string(runes[:max-3])
	if i := strings.LastIndex(cut, " "); i > 0 {
		cut = cut[:i]
	}
	return cut + "..."
}

// humanDuration renders a duration for the auto-close message, using
// the two most significant units ("1 day and 4 hours").
func humanDuration(d time.Duration) string {
	if d < time.Minute {
		seconds := int(d / time.Second)
		return plural(seconds, "second")
	}

	units := []struct {
		name string
		size time.Duration
	}{
		{"day", 24 * time.Hour},
		{"hour", time.Hour},
		{"minute", time.Minute},
		{"second", time.Second},
	}

	var parts []string
	for _, unit := range units {
		if d >= unit.size {
			n := int(d / unit.size)
			d -= time.Duration(n) * unit.size
			parts = append(parts, plural(n, unit.name))
			if len(parts) == 2 {
				break
			}
		}
	}
	return strings.Join(parts, " and ")
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

// daysAgo renders a day count for the info embed.
func daysAgo(n int) string {
	switch {
	case n <= 0:
		return "today"
	case n == 1:
		return "yesterday"
	default:
		return fmt.Sprintf("%d days ago", n)
	}
}
