package wire

import (
	"fmt"

	"github.com/nbd-wtf/go-nostr"
)

// KindRPC, KindGiftWrap, and the five discovery kinds are the event kinds
// the core speaks, copied verbatim from the tag/kind vocabulary.
const (
	KindRPC                  = 25910
	KindGiftWrap              = 1059
	KindAnnouncement          = 11316
	KindToolsList             = 11317
	KindResourcesList         = 11318
	KindResourceTemplatesList = 11319
	KindPromptsList           = 11320
)

// TagRecipient, TagEvent and the announcement metadata tag names, matching §3's tag
// vocabulary exactly so transports never invent their own tag names.
const (
	TagRecipient        = "p"
	TagEvent             = "e"
	TagSupportEncryption = "support_encryption"
	TagName              = "name"
	TagAbout             = "about"
	TagWebsite           = "website"
	TagPicture           = "picture"
	TagCap               = "cap"
)

// Encode produces an unsigned event carrying msg as its content, matching
// §4.3: the content is the JSON serialization of the full MCP message and
// the tag set is exactly what the caller supplied, with no implicit
// additions. The caller (a transport) signs the returned event afterward.
func Encode(msg Message, authorPubkeyHex string, kind int, tags nostr.Tags) (nostr.Event, error) {
	content, err := Marshal(msg)
	if err != nil {
		return nostr.Event{}, err
	}
	if tags == nil {
		tags = nostr.Tags{}
	}
	return nostr.Event{
		PubKey:    authorPubkeyHex,
		CreatedAt: nostr.Now(),
		Kind:      kind,
		Tags:      tags,
		Content:   string(content),
	}, nil
}

// ErrInvalidEvent is the sentinel the caller MUST treat as "skip this event,
// do not fail the subscription" per §4.3's decode contract.
var ErrInvalidEvent = fmt.Errorf("wire: event content is not a valid MCP message")

// Decode parses an event's content as an MCP message. Per §4.3, a parse
// failure returns ErrInvalidEvent rather than panicking; callers must treat
// it as a drop-this-event signal, never as a reason to tear down a
// subscription.
func Decode(evt nostr.Event) (Message, error) {
	msg, err := Unmarshal([]byte(evt.Content))
	if err != nil {
		return Message{}, ErrInvalidEvent
	}
	return msg, nil
}
