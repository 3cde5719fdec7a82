package conversation

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"thumbnail-bot/internal/model"
	"thumbnail-bot/internal/service"
)

// DefaultIdleTimeout is how long an untouched draft is kept.
const DefaultIdleTimeout = 20 * time.Minute

// GenericFailure is shown when a store call fails.
const GenericFailure = "⚠️ Something went wrong on our side. Please try again in a moment."

const (
	msgCancelled    = "⏪ Template creation cancelled. Nothing was saved."
	msgAskName      = "🆕 Creating a new template.\n<b>Step 1:</b> what should it be called?"
	msgAskNameAgain = "The name can't be empty. Send a name for the template."
	msgChooseAction = "Please use the buttons below: add another button, save the template or cancel."
)

// TemplateCreator persists a finished draft.
type TemplateCreator interface {
	CreateTemplate(ctx context.Context, ownerID int64, input service.TemplateInput) (*model.Template, error)
}

// Reply is what the engine wants sent back to the user. Text is HTML.
// Choices, when present, should be rendered as buttons.
type Reply struct {
	Text    string
	Choices []Choice
	Done    bool
}

// Engine drives users through template creation. Every transition loads the
// owner's session, applies one input and stores the result, so nothing is
// held on a call stack between chat turns. Inputs of one owner must be
// delivered sequentially; different owners never share state.
type Engine struct {
	store       Store
	creator     TemplateCreator
	idleTimeout time.Duration
	now         func() time.Time
	log         *zap.Logger
}

func NewEngine(store Store, creator TemplateCreator, idleTimeout time.Duration, log *zap.Logger) *Engine {
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}
	return &Engine{
		store:       store,
		creator:     creator,
		idleTimeout: idleTimeout,
		now:         time.Now,
		log:         log,
	}
}

// Start opens a fresh draft in StateAwaitingName. An existing draft is discarded.
func (e *Engine) Start(ctx context.Context, ownerID int64) (Reply, error) {
	existing, err := e.load(ctx, ownerID)
	if err != nil {
		return Reply{Text: GenericFailure}, err
	}

	now := e.now()
	sess := &Session{OwnerID: ownerID, State: StateAwaitingName, StartedAt: now, UpdatedAt: now}
	if err := e.store.Save(ctx, sess); err != nil {
		return Reply{Text: GenericFailure}, err
	}

	e.log.Info("template draft started", zap.Int64("user", ownerID), zap.Bool("replaced", existing != nil))
	text := msgAskName
	if existing != nil {
		text = "♻️ Your previous unfinished template was discarded.\n\n" + msgAskName
	}
	return Reply{Text: text}, nil
}

// Session returns the owner's active draft or nil.
func (e *Engine) Session(ctx context.Context, ownerID int64) (*Session, error) {
	return e.load(ctx, ownerID)
}

// HandleText applies free-text input. handled is false when the owner has no
// active draft.
func (e *Engine) HandleText(ctx context.Context, ownerID int64, text string) (reply Reply, handled bool, err error) {
	sess, err := e.load(ctx, ownerID)
	if err != nil {
		return Reply{Text: GenericFailure}, true, err
	}
	if sess == nil {
		return Reply{}, false, nil
	}

	text = strings.TrimSpace(text)
	switch sess.State {
	case StateAwaitingName:
		reply = e.acceptName(sess, text)
	case StateAwaitingButtonLabel:
		reply = e.acceptLabel(sess, text)
	case StateAwaitingButtonURL:
		reply = e.acceptURL(sess, text)
	default:
		reply = Reply{Text: msgChooseAction, Choices: confirmationChoices(sess)}
	}

	return e.persist(ctx, sess, reply)
}

// HandleChoice applies a button press. Cancel is honoured in every step; add
// and save only while a choice is expected, otherwise the current step is
// prompted again.
func (e *Engine) HandleChoice(ctx context.Context, ownerID int64, choice Choice) (reply Reply, handled bool, err error) {
	sess, err := e.load(ctx, ownerID)
	if err != nil {
		return Reply{Text: GenericFailure}, true, err
	}
	if sess == nil {
		return Reply{}, false, nil
	}

	if choice == ChoiceCancel {
		return e.terminate(ctx, sess)
	}
	if sess.State != StateAwaitingConfirmation {
		return e.persist(ctx, sess, prompt(sess))
	}

	switch choice {
	case ChoiceAddAnother:
		if len(sess.PendingButtons) >= service.MaxButtonsCount {
			reply = Reply{
				Text:    fmt.Sprintf("A template can have at most %d buttons. Save it or cancel.", service.MaxButtonsCount),
				Choices: confirmationChoices(sess),
			}
			return e.persist(ctx, sess, reply)
		}
		sess.State = StateAwaitingButtonLabel
		return e.persist(ctx, sess, prompt(sess))
	case ChoiceSave:
		return e.save(ctx, sess)
	default:
		return e.persist(ctx, sess, Reply{Text: msgChooseAction, Choices: confirmationChoices(sess)})
	}
}

// Cancel ends the owner's draft from any step. handled is false when there
// was nothing to cancel.
func (e *Engine) Cancel(ctx context.Context, ownerID int64) (reply Reply, handled bool, err error) {
	sess, err := e.load(ctx, ownerID)
	if err != nil {
		return Reply{Text: GenericFailure}, true, err
	}
	if sess == nil {
		return Reply{}, false, nil
	}
	return e.terminate(ctx, sess)
}

// Reap drops drafts idle for longer than the timeout.
func (e *Engine) Reap(ctx context.Context) (int, error) {
	removed, err := e.store.DeleteIdle(ctx, e.now().Add(-e.idleTimeout))
	if err != nil {
		return 0, fmt.Errorf("reap sessions: %w", err)
	}
	if removed > 0 {
		e.log.Info("idle template drafts reaped", zap.Int("count", removed))
	}
	return removed, nil
}

func (e *Engine) acceptName(sess *Session, text string) Reply {
	if text == "" {
		return Reply{Text: msgAskNameAgain}
	}
	if utf8.RuneCountInString(text) > service.MaxNameLength {
		return Reply{Text: fmt.Sprintf("That name is too long (max %d characters). Try a shorter one.", service.MaxNameLength)}
	}
	sess.PendingName = text
	sess.PendingButtons = nil
	sess.State = StateAwaitingButtonLabel
	return Reply{Text: fmt.Sprintf("✏️ Template <b>%s</b>.\n<b>Step 2:</b> send the label of the first button.", html.EscapeString(text))}
}

func (e *Engine) acceptLabel(sess *Session, text string) Reply {
	if text == "" {
		return Reply{Text: "The button label can't be empty. Send the text to show on the button."}
	}
	if utf8.RuneCountInString(text) > service.MaxLabelLength {
		return Reply{Text: fmt.Sprintf("That label is too long (max %d characters). Try a shorter one.", service.MaxLabelLength)}
	}
	sess.PendingLabel = text
	sess.State = StateAwaitingButtonURL
	return prompt(sess)
}

func (e *Engine) acceptURL(sess *Session, text string) Reply {
	if !service.IsValidURL(text) {
		return Reply{Text: "That doesn't look like a link. Send a URL starting with <code>http://</code> or <code>https://</code>."}
	}
	sess.PendingButtons = append(sess.PendingButtons, model.Button{Label: sess.PendingLabel, URL: text})
	sess.PendingLabel = ""
	sess.State = StateAwaitingConfirmation
	return Reply{
		Text:    fmt.Sprintf("✅ Button added (%d so far). What next?", len(sess.PendingButtons)),
		Choices: confirmationChoices(sess),
	}
}

// save commits the draft. On failure the stored session is left untouched
// so the user can retry.
func (e *Engine) save(ctx context.Context, sess *Session) (Reply, bool, error) {
	if len(sess.PendingButtons) == 0 {
		return e.persist(ctx, sess, Reply{
			Text:    "⚠️ Add at least one button before saving.",
			Choices: []Choice{ChoiceAddAnother, ChoiceCancel},
		})
	}

	input := service.TemplateInput{
		Name:    sess.PendingName,
		Buttons: append([]model.Button(nil), sess.PendingButtons...),
	}
	tpl, err := e.creator.CreateTemplate(ctx, sess.OwnerID, input)
	if err != nil {
		var verr *service.ValidationError
		if errors.As(err, &verr) {
			return Reply{
				Text:    fmt.Sprintf("⚠️ Can't save this template: %s", html.EscapeString(verr.Error())),
				Choices: confirmationChoices(sess),
			}, true, nil
		}
		e.log.Error("save template draft", zap.Int64("user", sess.OwnerID), zap.Error(err))
		return Reply{Text: GenericFailure, Choices: confirmationChoices(sess)}, true, err
	}

	e.log.Info("template created", zap.Int64("user", sess.OwnerID), zap.String("template", tpl.ID), zap.Int("buttons", len(tpl.Buttons)))
	e.retire(ctx, sess)

	return Reply{Text: SavedText(tpl), Done: true}, true, nil
}

// retire removes a saved draft. When the delete fails the draft is stored
// as terminated instead, so a repeated save can't create the template twice.
func (e *Engine) retire(ctx context.Context, sess *Session) {
	sess.State = StateTerminated
	err := e.store.Delete(ctx, sess.OwnerID)
	if err == nil {
		return
	}
	e.log.Warn("drop saved draft", zap.Int64("user", sess.OwnerID), zap.Error(err))

	sess.UpdatedAt = e.now()
	if err := e.store.Save(ctx, sess); err != nil {
		e.log.Error("mark saved draft terminated", zap.Int64("user", sess.OwnerID), zap.Error(err))
	}
}

func (e *Engine) terminate(ctx context.Context, sess *Session) (Reply, bool, error) {
	sess.State = StateTerminated
	if err := e.store.Delete(ctx, sess.OwnerID); err != nil {
		return Reply{Text: GenericFailure}, true, err
	}
	e.log.Info("template draft cancelled", zap.Int64("user", sess.OwnerID))
	return Reply{Text: msgCancelled, Done: true}, true, nil
}

func (e *Engine) persist(ctx context.Context, sess *Session, reply Reply) (Reply, bool, error) {
	sess.UpdatedAt = e.now()
	if err := e.store.Save(ctx, sess); err != nil {
		return Reply{Text: GenericFailure}, true, err
	}
	return reply, true, nil
}

// load returns the owner's active session. Terminated drafts count as absent
// and ones idle too long are discarded.
func (e *Engine) load(ctx context.Context, ownerID int64) (*Session, error) {
	sess, err := e.store.Load(ctx, ownerID)
	if err != nil || sess == nil {
		return nil, err
	}
	if sess.State == StateTerminated {
		return nil, nil
	}
	if e.now().Sub(sess.UpdatedAt) > e.idleTimeout {
		if err := e.store.Delete(ctx, ownerID); err != nil {
			return nil, err
		}
		e.log.Info("expired template draft dropped", zap.Int64("user", ownerID))
		return nil, nil
	}
	return sess, nil
}

// prompt repeats the question of the session's current step.
func prompt(sess *Session) Reply {
	switch sess.State {
	case StateAwaitingName:
		return Reply{Text: msgAskName}
	case StateAwaitingButtonLabel:
		return Reply{Text: fmt.Sprintf("Send the label of button #%d.", len(sess.PendingButtons)+1)}
	case StateAwaitingButtonURL:
		return Reply{Text: fmt.Sprintf("🔗 Now send the URL for <b>%s</b> (starting with <code>http://</code> or <code>https://</code>).", html.EscapeString(sess.PendingLabel))}
	default:
		return Reply{Text: msgChooseAction, Choices: confirmationChoices(sess)}
	}
}

func confirmationChoices(sess *Session) []Choice {
	if len(sess.PendingButtons) >= service.MaxButtonsCount {
		return []Choice{ChoiceSave, ChoiceCancel}
	}
	return []Choice{ChoiceAddAnother, ChoiceSave, ChoiceCancel}
}

// SavedText confirms a stored template with its id.
func SavedText(tpl *model.Template) string {
	return fmt.Sprintf("💾 Template <b>%s</b> saved with %s.\nID: <code>%s</code>",
		html.EscapeString(tpl.Name), ButtonCount(len(tpl.Buttons)), html.EscapeString(tpl.ID))
}

// ButtonCount renders "1 button" or "N buttons".
func ButtonCount(n int) string {
	if n == 1 {
		return "1 button"
	}
	return fmt.Sprintf("%d buttons", n)
}
