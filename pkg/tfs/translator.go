// Package tfs translates Team Foundation Server check-in notifications into
// commit records.
//
// TFS delivers notifications as a SOAP envelope whose eventXml element carries
// an HTML-entity-encoded CheckinEvent document. Whatever the outcome, TFS
// expects the same NotifyResponse acknowledgement back.
package tfs

import (
	"errors"
	"fmt"
	"html"
	"regexp"
	"strings"
	"time"

	"github.com/illmade-knight/go-commitflow/pkg/translation"
	"github.com/illmade-knight/go-commitflow/pkg/types"
	"github.com/rs/zerolog"
)

const (
	// SourceSystem tags every commit produced by this translator.
	SourceSystem = "TFS"
	// FailureReason is reported for any message that cannot be translated.
	FailureReason = "It was not possible to translate the message."
	// MediaType is the media type of the acknowledgement.
	MediaType = "application/soap+xml"
	// AcknowledgementBody is the NotifyResponse envelope TFS expects.
	AcknowledgementBody = `<?xml version="1.0"?><s:Envelope xmlns:a="http://www.w3.org/2005/08/addressing" xmlns:s="http://www.w3.org/2003/05/soap-envelope"><s:Header><a:Action s:mustUnderstand="1">http://schemas.microsoft.com/TeamFoundation/2005/06/Services/Notification/03/IService/NotifyResponse</a:Action></s:Header><s:Body xmlns:xsd="http://www.w3.org/2001/XMLSchema" xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance"><NotifyResponse xmlns="http://schemas.microsoft.com/TeamFoundation/2005/06/Services/Notification/03"/></s:Body></s:Envelope>`

	userAgentHeader = "User-Agent"
	userAgentPrefix = "Team Foundation"
	checkinEventTag = `<CheckinEvent xmlns:xsd="http://www.w3.org/2001/XMLSchema" xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance">`

	// offsetLength is the length of a "-05:00" style offset. TFS sends
	// "-05:00:00"; the seconds part is dropped.
	offsetLength = 6
)

// creationDateLayouts are the CreationDate formats TFS servers emit.
var creationDateLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"1/2/2006 3:04:05 PM",
	"1/2/2006 15:04:05",
	"2006-01-02",
}

// Translator implements translation.Translator for TFS check-in events.
// It holds no mutable state and is safe for concurrent use.
type Translator struct {
	eventPattern        *regexp.Regexp
	checkinEventPattern *regexp.Regexp
	logger              zerolog.Logger
}

// New creates a TFS Translator.
func New(logger zerolog.Logger) *Translator {
	return &Translator{
		// (?s) lets the match cross newlines, so an event document spread over
		// several lines is still found.
		eventPattern:        regexp.MustCompile(`(?s)<eventXml>(.*?)</eventXml>`),
		checkinEventPattern: regexp.MustCompile(regexp.QuoteMeta(checkinEventTag)),
		logger:              logger.With().Str("component", "TfsTranslator").Logger(),
	}
}

var _ translation.Translator = (*Translator)(nil)

// CanProcess reports whether msg was sent by TFS and carries a check-in event.
func (t *Translator) CanProcess(msg types.InboundMessage) bool {
	return isUserAgentFromTfs(msg) && t.isCheckinEvent(msg.Body)
}

// Execute extracts the commit from a check-in notification. Any problem with
// the payload yields a Failure result; the acknowledgement is the same either way.
func (t *Translator) Execute(msg types.InboundMessage) translation.Result {
	commit, err := t.translate(msg)
	if err != nil {
		t.logger.Debug().Err(err).Msg("Failed to translate TFS notification.")
		return translation.FailureWithContent(FailureReason, acknowledgement())
	}
	return translation.SuccessWithContent([]types.CommitMessage{commit}, acknowledgement())
}

func (t *Translator) translate(msg types.InboundMessage) (types.CommitMessage, error) {
	doc, err := t.decodeContentAndCreateDocument(msg.Body)
	if err != nil {
		return types.CommitMessage{}, err
	}
	return parseCheckinEvent(doc)
}

// decodeContentAndCreateDocument entity-decodes the envelope and parses the
// first eventXml payload as its own document.
func (t *Translator) decodeContentAndCreateDocument(body string) (*node, error) {
	content := html.UnescapeString(body)
	match := t.eventPattern.FindStringSubmatch(content)
	if match == nil {
		return nil, errors.New("no eventXml element in message body")
	}
	return parseDocument(match[1])
}

func (t *Translator) isCheckinEvent(body string) bool {
	if strings.TrimSpace(body) == "" {
		return false
	}
	return t.checkinEventPattern.MatchString(html.UnescapeString(body))
}

func isUserAgentFromTfs(msg types.InboundMessage) bool {
	for _, agent := range msg.HeaderValues(userAgentHeader) {
		if strings.HasPrefix(agent, userAgentPrefix) {
			return true
		}
	}
	return false
}

func parseCheckinEvent(doc *node) (types.CommitMessage, error) {
	event := doc.descendant("CheckinEvent")
	if event == nil {
		return types.CommitMessage{}, errors.New("no CheckinEvent element in event document")
	}

	committer, err := event.childValue("Committer")
	if err != nil {
		return types.CommitMessage{}, err
	}
	date, err := parseCreationDate(event)
	if err != nil {
		return types.CommitMessage{}, err
	}
	comment, err := event.childValue("Comment")
	if err != nil {
		return types.CommitMessage{}, err
	}
	project, err := event.childValue("TeamProject")
	if err != nil {
		return types.CommitMessage{}, err
	}
	number, err := event.childValue("Number")
	if err != nil {
		return types.CommitMessage{}, err
	}

	return types.CommitMessage{
		Author:   types.Author{Name: committer},
		Date:     date,
		Message:  comment,
		Repo:     types.Repo{Name: project},
		Source:   SourceSystem,
		CommitID: types.CommitID{Name: number},
	}, nil
}

// parseCreationDate combines CreationDate with the first six characters of
// TimeZoneOffset and parses the result with that fixed offset.
func parseCreationDate(event *node) (time.Time, error) {
	creationDate, err := event.childValue("CreationDate")
	if err != nil {
		return time.Time{}, err
	}
	offset, err := event.childValue("TimeZoneOffset")
	if err != nil {
		return time.Time{}, err
	}
	if len(offset) < offsetLength {
		return time.Time{}, fmt.Errorf("time zone offset %q is too short", offset)
	}

	value := strings.TrimSpace(creationDate) + " " + offset[:offsetLength]
	for _, layout := range creationDateLayouts {
		if ts, err := time.ParseInLocation(layout+" -07:00", value, time.UTC); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse check-in date %q", value)
}

func acknowledgement() translation.Content {
	return translation.Content{
		Body:      []byte(AcknowledgementBody),
		MediaType: MediaType,
	}
}
