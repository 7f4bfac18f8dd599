package settings

// Well-known keys. The string constants are the storage keys; the
// schema below binds each to its converter and default.
const (
	KeyMention                     = "mention"
	KeyMainCategory                = "main_category"
	KeyLogChannelID                = "log_channel_id"
	KeyLogURL                      = "log_url"
	KeySentEmoji                   = "sent_emoji"
	KeyBlockedEmoji                = "blocked_emoji"
	KeyCloseEmoji                  = "close_emoji"
	KeyDisableRecipientThreadClose = "disable_recipient_thread_close"
	KeyThreadCreationResponse      = "thread_creation_response"
	KeyThreadCreationFooter        = "thread_creation_footer"
	KeyThreadCreationTitle         = "thread_creation_title"
	KeyThreadCloseFooter           = "thread_close_footer"
	KeyThreadCloseTitle            = "thread_close_title"
	KeyThreadCloseResponse         = "thread_close_response"
	KeyThreadSelfCloseResponse     = "thread_self_close_response"
	KeyThreadAutoClose             = "thread_auto_close"
	KeyThreadAutoCloseResponse     = "thread_auto_close_response"
	KeyModTag                      = "mod_tag"
	KeyModColor                    = "mod_color"
	KeyRecipientColor              = "recipient_color"
	KeyMainColor                   = "main_color"
	KeyAnonUsername                = "anon_username"
	KeyAnonAvatarURL               = "anon_avatar_url"
	KeyAnonTag                     = "anon_tag"

	// Composite views, managed through dedicated accessors.
	KeySubscriptions     = "subscriptions"
	KeyNotificationSquad = "notification_squad"
	KeyClosures          = "closures"
)

// Key describes one schema entry.
type Key struct {
	// Conv validates and decodes the key's values.
	Conv Converter

	// Default is the storage-form fallback when the key is unset or
	// its stored value fails to decode. Empty means "no value".
	Default string

	// Settable keys may be written through Set; the composite views
	// are not.
	Settable bool
}

// Schema is the closed set of keys the store accepts.
var Schema = map[string]Key{
	KeyMention:                     {Conv: StringConv{}, Default: "@here", Settable: true},
	KeyMainCategory:                {Conv: StringConv{}, Settable: true},
	KeyLogChannelID:                {Conv: IntConv{}, Settable: true},
	KeyLogURL:                      {Conv: StringConv{}, Settable: true},
	KeySentEmoji:                   {Conv: EmojiConv{}, Default: "✅", Settable: true},
	KeyBlockedEmoji:                {Conv: EmojiConv{}, Default: "\U0001F6AB", Settable: true},
	KeyCloseEmoji:                  {Conv: EmojiConv{}, Default: "\U0001F512", Settable: true},
	KeyDisableRecipientThreadClose: {Conv: BoolConv{}, Default: "0", Settable: true},
	KeyThreadCreationResponse:      {Conv: StringConv{}, Default: "The staff team will get back to you as soon as possible.", Settable: true},
	KeyThreadCreationFooter:        {Conv: StringConv{}, Settable: true},
	KeyThreadCreationTitle:         {Conv: StringConv{}, Default: "Thread Created", Settable: true},
	KeyThreadCloseFooter:           {Conv: StringConv{}, Default: "Replying will create a new thread", Settable: true},
	KeyThreadCloseTitle:            {Conv: StringConv{}, Default: "Thread Closed", Settable: true},
	KeyThreadCloseResponse:         {Conv: StringConv{}, Default: "{closer} has closed this thread.", Settable: true},
	KeyThreadSelfCloseResponse:     {Conv: StringConv{}, Default: "You have closed this thread.", Settable: true},
	KeyThreadAutoClose:             {Conv: DurationConv{}, Settable: true},
	KeyThreadAutoCloseResponse:     {Conv: StringConv{}, Default: "This thread has been closed automatically due to inactivity after %t.", Settable: true},
	KeyModTag:                      {Conv: StringConv{}, Settable: true},
	KeyModColor:                    {Conv: ColorConv{}, Default: "#2ecc71", Settable: true},
	KeyRecipientColor:              {Conv: ColorConv{}, Default: "#f1c40f", Settable: true},
	KeyMainColor:                   {Conv: ColorConv{}, Default: "#7289da", Settable: true},
	KeyAnonUsername:                {Conv: StringConv{}, Settable: true},
	KeyAnonAvatarURL:               {Conv: StringConv{}, Settable: true},
	KeyAnonTag:                     {Conv: StringConv{}, Default: "Response", Settable: true},

	KeySubscriptions:     {Conv: RawJSONConv{}, Default: "{}"},
	KeyNotificationSquad: {Conv: RawJSONConv{}, Default: "{}"},
	KeyClosures:          {Conv: RawJSONConv{}, Default: "{}"},
}
