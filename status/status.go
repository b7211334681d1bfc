// Package status tracks the user-facing indicator of a capture session and
// fans its changes out to publishers.
package status

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Kind is the base state shown to the user.
type Kind int

const (
	NotFramed Kind = iota
	Framed
	Recording
)

func (k Kind) String() string {
	switch k {
	case NotFramed:
		return "not_framed"
	case Framed:
		return "framed"
	case Recording:
		return "recording"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Transient messages shown until the next state transition.
const (
	MsgUploadFailed    = "Upload failed"
	MsgPoseModelFailed = "Pose model failed to load"
)

// Update is one published indicator change.
type Update struct {
	SessionID string    `json:"session_id"`
	State     string    `json:"state"`
	Text      string    `json:"text"`
	Message   string    `json:"message,omitempty"`
	At        time.Time `json:"at"`
}

// Publisher receives indicator updates. Errors are logged by the Indicator
// and never stop the session.
type Publisher interface {
	Publish(u Update) error
}

// Indicator holds the current status. It is safe for concurrent use: the frame
// loop sets the state while background uploads flash messages.
type Indicator struct {
	sessionID string
	clip      time.Duration
	pubs      []Publisher
	log       logrus.FieldLogger
	now       func() time.Time

	mu      sync.Mutex
	kind    Kind
	message string
	started bool
}

// NewIndicator starts in NotFramed. clip is the recording length shown in
// the Recording text.
func NewIndicator(sessionID string, clip time.Duration, log logrus.FieldLogger, pubs ...Publisher) *Indicator {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Indicator{sessionID: sessionID, clip: clip, pubs: pubs, log: log, now: time.Now}
}

// Text renders a base state the way the UI labels it.
func Text(k Kind, clip time.Duration) string {
	switch k {
	case Framed:
		return "framed"
	case Recording:
		return fmt.Sprintf("recording %ds clip", int(clip.Round(time.Second)/time.Second))
	default:
		return "not framed"
	}
}

// Current returns the displayed text: the transient message when one is set,
// otherwise the base state.
func (in *Indicator) Current() string {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.message != "" {
		return in.message
	}
	return Text(in.kind, in.clip)
}

// Kind returns the base state.
func (in *Indicator) Kind() Kind {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.kind
}

// Set moves to k. A transition clears any transient message. Setting the
// current state again is a no-op after the first publish.
func (in *Indicator) Set(k Kind) {
	in.mu.Lock()
	if in.started && k == in.kind {
		in.mu.Unlock()
		return
	}
	in.started = true
	in.kind = k
	in.message = ""
	u := in.updateLocked()
	in.mu.Unlock()
	in.publish(u)
}

// Flash shows msg until the next transition.
func (in *Indicator) Flash(msg string) {
	in.mu.Lock()
	if in.message == msg {
		in.mu.Unlock()
		return
	}
	in.message = msg
	u := in.updateLocked()
	in.mu.Unlock()
	in.publish(u)
}

func (in *Indicator) updateLocked() Update {
	text := Text(in.kind, in.clip)
	if in.message != "" {
		text = in.message
	}
	return Update{
		SessionID: in.sessionID,
		State:     in.kind.String(),
		Text:      text,
		Message:   in.message,
		At:        in.now().UTC(),
	}
}

func (in *Indicator) publish(u Update) {
	for _, p := range in.pubs {
		if err := p.Publish(u); err != nil {
			in.log.WithError(err).WithField("state", u.State).Debug("status publish failed")
		}
	}
}

// LogPublisher writes updates to a logger.
type LogPublisher struct {
	Log logrus.FieldLogger
}

func (p LogPublisher) Publish(u Update) error {
	entry := p.Log.WithFields(logrus.Fields{"session_id": u.SessionID, "state": u.State})
	if u.Message != "" {
		entry.Warn(u.Text)
		return nil
	}
	entry.Info(u.Text)
	return nil
}
