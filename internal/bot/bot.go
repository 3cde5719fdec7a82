package bot

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"thumbnail-bot/internal/conversation"
	"thumbnail-bot/internal/model"
	"thumbnail-bot/internal/repository"
	"thumbnail-bot/internal/service"
)

const cbChoicePrefix = "tpl:"

// maxMessageBytes keeps a message under Telegram's 4096 character limit.
const maxMessageBytes = 4096

const (
	btnCancelDialog     = "✖️ Cancel"
	menuLabelNew        = "🆕 New template"
	menuLabelTemplates  = "📋 My templates"
	menuLabelHelp       = "ℹ️ Help"
	msgNoTemplates      = "You have no templates yet. Create one with /newtemplate."
	msgTemplateNotFound = "Template not found or you are not its owner."
)

var choiceLabels = map[conversation.Choice]string{
	conversation.ChoiceAddAnother: "➕ Add another button",
	conversation.ChoiceSave:       "💾 Save template",
	conversation.ChoiceCancel:     "✖️ Cancel",
}

// sender is the part of the Telegram API the bot talks through.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Bot aggregates Telegram API with services.
type Bot struct {
	api       *tgbotapi.BotAPI
	client    sender
	userRepo  *repository.UserRepository
	templates *service.TemplateService
	engine    *conversation.Engine
	log       *zap.Logger
}

func New(token string, userRepo *repository.UserRepository, templates *service.TemplateService, engine *conversation.Engine, log *zap.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}

	log.Info("bot authorized", zap.String("account", api.Self.UserName))

	b := newBot(api, userRepo, templates, engine, log)
	b.api = api
	return b, nil
}

func newBot(client sender, userRepo *repository.UserRepository, templates *service.TemplateService, engine *conversation.Engine, log *zap.Logger) *Bot {
	return &Bot{
		client:    client,
		userRepo:  userRepo,
		templates: templates,
		engine:    engine,
		log:       log,
	}
}

// Start removes any webhook and polls updates until ctx is cancelled.
// Updates are handled one at a time, so a user's messages are processed in
// arrival order.
func (b *Bot) Start(ctx context.Context) error {
	if err := b.DeleteWebhook(); err != nil {
		b.log.Warn("delete webhook failed", zap.Error(err))
	}

	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = 60
	updates := b.api.GetUpdatesChan(updateConfig)

	b.log.Info("start polling updates")

	go func() {
		<-ctx.Done()
		b.api.StopReceivingUpdates()
	}()

	for update := range updates {
		b.HandleUpdate(ctx, update)
	}

	return ctx.Err()
}

// DeleteWebhook clears a registered webhook so long polling can work. It is
// safe to call when none is set.
func (b *Bot) DeleteWebhook() error {
	resp, err := b.client.Request(tgbotapi.DeleteWebhookConfig{DropPendingUpdates: true})
	if err != nil {
		return err
	}
	b.log.Info("webhook removed", zap.Bool("ok", resp.Ok))
	return nil
}

// HandleUpdate dispatches a single update. Errors are logged and never stop
// the loop.
func (b *Bot) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.CallbackQuery != nil:
		if err := b.handleCallback(ctx, update.CallbackQuery); err != nil {
			b.log.Error("handle callback", zap.Error(err))
		}
	case update.Message != nil:
		if update.Message.Chat == nil || !update.Message.Chat.IsPrivate() {
			return
		}
		if err := b.handleMessage(ctx, update.Message); err != nil {
			b.log.Error("handle message", zap.Error(err))
		}
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) error {
	if msg.From == nil {
		return nil
	}

	if msg.IsCommand() {
		b.log.Info("command", zap.Int64("user", msg.From.ID), zap.String("command", msg.Command()))
		return b.handleCommand(ctx, msg)
	}

	if isCancelDialogInput(msg.Text) {
		return b.handleCancel(ctx, msg)
	}

	if handled, err := b.handleMenuAlias(ctx, msg); handled {
		return err
	}

	reply, handled, err := b.engine.HandleText(ctx, msg.From.ID, msg.Text)
	if err != nil {
		b.log.Error("conversation step", zap.Int64("user", msg.From.ID), zap.Error(err))
	}
	if handled {
		return b.sendReply(msg.Chat.ID, reply)
	}

	return b.sendText(msg.Chat.ID, "I didn't get that. Send /newtemplate to create a template or /help for the command list.")
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) error {
	switch msg.Command() {
	case "start":
		return b.handleStart(ctx, msg)
	case "help":
		return b.handleHelp(ctx, msg)
	case "newtemplate":
		return b.handleNewTemplate(ctx, msg)
	case "mytemplates":
		return b.handleListTemplates(ctx, msg)
	case "template":
		return b.handleShowTemplate(ctx, msg)
	case "deletetemplate":
		return b.handleDeleteTemplate(ctx, msg)
	case "cancel":
		return b.handleCancel(ctx, msg)
	default:
		return b.sendText(msg.Chat.ID, "Unknown command. See /help.")
	}
}

func (b *Bot) handleStart(ctx context.Context, msg *tgbotapi.Message) error {
	if _, err := b.ensureUser(ctx, msg.From); err != nil {
		return b.fail(msg.Chat.ID, "ensure user", err)
	}

	name := strings.TrimSpace(msg.From.FirstName)
	if name == "" {
		name = "there"
	}
	text := fmt.Sprintf("👋 Hi, %s!\n<b>Thumbnail Bot is active.</b> I keep reusable button templates for you.\n\n%s", escape(name), commandList)
	return b.sendText(msg.Chat.ID, text)
}

const commandList = "Commands:\n" +
	"• /newtemplate — create a template step by step\n" +
	"• /newtemplate &lt;json&gt; — create one from a JSON payload\n" +
	"• /mytemplates — your templates and shared ones\n" +
	"• /template &lt;id&gt; — show a template with its buttons\n" +
	"• /deletetemplate &lt;id&gt; — delete one of your templates\n" +
	"• /cancel — abandon the template being created"

func (b *Bot) handleHelp(ctx context.Context, msg *tgbotapi.Message) error {
	text := "ℹ️ <b>Help</b>\n" + commandList + "\n\nJSON example:\n" +
		`<code>/newtemplate {"name":"My","buttons":[{"label":"YT","url":"https://youtube.com"}]}</code>`

	draft, err := b.engine.Session(ctx, msg.From.ID)
	if err != nil {
		b.log.Warn("load template draft", zap.Int64("user", msg.From.ID), zap.Error(err))
	}
	if draft != nil {
		text += "\n\n" + draftProgress(draft)
	}
	return b.sendText(msg.Chat.ID, text)
}

func draftProgress(draft *conversation.Session) string {
	name := "(unnamed)"
	if draft.PendingName != "" {
		name = escape(draft.PendingName)
	}
	return fmt.Sprintf("📝 Unfinished template <b>%s</b>: %s so far, waiting for %s. Send /cancel to drop it.",
		name, conversation.ButtonCount(len(draft.PendingButtons)), stepName(draft.State))
}

func stepName(state conversation.State) string {
	switch state {
	case conversation.StateAwaitingName:
		return "the name"
	case conversation.StateAwaitingButtonLabel:
		return "a button label"
	case conversation.StateAwaitingButtonURL:
		return "a button URL"
	default:
		return "your choice"
	}
}

func (b *Bot) handleNewTemplate(ctx context.Context, msg *tgbotapi.Message) error {
	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return b.fail(msg.Chat.ID, "ensure user", err)
	}

	if raw := strings.TrimSpace(msg.CommandArguments()); raw != "" {
		return b.createFromPayload(ctx, msg.Chat.ID, user, raw)
	}

	reply, err := b.engine.Start(ctx, user.TelegramID)
	if err != nil {
		b.log.Error("start template draft", zap.Int64("user", user.TelegramID), zap.Error(err))
	}
	return b.sendReply(msg.Chat.ID, reply)
}

func (b *Bot) createFromPayload(ctx context.Context, chatID int64, user *model.User, raw string) error {
	input, err := service.ParsePayload(raw)
	if err == nil {
		var tpl *model.Template
		tpl, err = b.templates.CreateTemplate(ctx, user.TelegramID, input)
		if err == nil {
			b.log.Info("template created from payload", zap.Int64("user", user.TelegramID), zap.String("template", tpl.ID))
			return b.sendText(chatID, conversation.SavedText(tpl))
		}
	}

	var verr *service.ValidationError
	if errors.As(err, &verr) {
		return b.sendText(chatID, fmt.Sprintf("⚠️ Invalid template: %s\nSee /help for the payload format.", escape(verr.Error())))
	}
	return b.fail(chatID, "create template", err)
}

// handleListTemplates renders the requester's own and shared templates in
// the order the store returns them, newest first.
func (b *Bot) handleListTemplates(ctx context.Context, msg *tgbotapi.Message) error {
	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return b.fail(msg.Chat.ID, "ensure user", err)
	}

	templates, err := b.templates.ListVisible(ctx, user.TelegramID)
	if err != nil {
		return b.fail(msg.Chat.ID, "list templates", err)
	}
	if len(templates) == 0 {
		return b.sendText(msg.Chat.ID, msgNoTemplates)
	}

	b.log.Info("list templates", zap.Int64("user", user.TelegramID), zap.Int("count", len(templates)))
	for _, part := range formatTemplateList(templates, user.TelegramID) {
		if err := b.sendText(msg.Chat.ID, part); err != nil {
			return err
		}
	}
	return nil
}

func (b *Bot) handleShowTemplate(ctx context.Context, msg *tgbotapi.Message) error {
	id := strings.TrimSpace(msg.CommandArguments())
	if id == "" {
		return b.sendText(msg.Chat.ID, "Send the template id: /template &lt;id&gt;. Ids are listed by /mytemplates.")
	}
	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return b.fail(msg.Chat.ID, "ensure user", err)
	}

	tpl, err := b.templates.Get(ctx, user.TelegramID, id)
	if errors.Is(err, repository.ErrNotFound) {
		return b.sendText(msg.Chat.ID, "Template not found.")
	}
	if err != nil {
		return b.fail(msg.Chat.ID, "get template", err)
	}

	text := fmt.Sprintf("🖼 <b>%s</b>", escape(tpl.Name))
	if len(tpl.Buttons) == 0 {
		return b.sendText(msg.Chat.ID, text+"\n(no buttons)")
	}
	return b.sendWithReplyMarkup(msg.Chat.ID, text, templateKeyboard(tpl.Buttons))
}

func (b *Bot) handleDeleteTemplate(ctx context.Context, msg *tgbotapi.Message) error {
	id := strings.TrimSpace(msg.CommandArguments())
	if id == "" {
		return b.sendText(msg.Chat.ID, "Send the template id: /deletetemplate &lt;id&gt;")
	}
	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return b.fail(msg.Chat.ID, "ensure user", err)
	}

	tpl, err := b.templates.Delete(ctx, user.TelegramID, id)
	if errors.Is(err, repository.ErrNotFound) {
		return b.sendText(msg.Chat.ID, msgTemplateNotFound)
	}
	if err != nil {
		return b.fail(msg.Chat.ID, "delete template", err)
	}

	b.log.Info("template deleted", zap.Int64("user", user.TelegramID), zap.String("template", tpl.ID))
	return b.sendText(msg.Chat.ID, fmt.Sprintf("🗑 Template <b>%s</b> deleted.", escape(tpl.Name)))
}

func (b *Bot) handleCancel(ctx context.Context, msg *tgbotapi.Message) error {
	reply, handled, err := b.engine.Cancel(ctx, msg.From.ID)
	if err != nil {
		b.log.Error("cancel template draft", zap.Int64("user", msg.From.ID), zap.Error(err))
	}
	if !handled {
		return b.sendText(msg.Chat.ID, "Nothing to cancel.")
	}
	return b.sendReply(msg.Chat.ID, reply)
}

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) error {
	if cb == nil || cb.From == nil || cb.Message == nil || cb.Message.Chat == nil {
		return nil
	}

	if _, err := b.client.Request(tgbotapi.NewCallback(cb.ID, "")); err != nil {
		b.log.Warn("callback ack", zap.Error(err))
	}

	choice, ok := conversation.ParseChoice(strings.TrimPrefix(cb.Data, cbChoicePrefix))
	if !strings.HasPrefix(cb.Data, cbChoicePrefix) || !ok {
		return nil
	}
	b.log.Info("callback choice", zap.Int64("user", cb.From.ID), zap.String("choice", string(choice)))

	chatID := cb.Message.Chat.ID
	b.dropInlineKeyboard(chatID, cb.Message.MessageID)

	reply, handled, err := b.engine.HandleChoice(ctx, cb.From.ID, choice)
	if err != nil {
		b.log.Error("conversation choice", zap.Int64("user", cb.From.ID), zap.Error(err))
	}
	if !handled {
		return b.sendText(chatID, "This draft is no longer active. Start again with /newtemplate.")
	}
	return b.sendReply(chatID, reply)
}

// dropInlineKeyboard edits a previous prompt so its choices can't be pressed twice.
func (b *Bot) dropInlineKeyboard(chatID int64, messageID int) {
	edit := tgbotapi.NewEditMessageReplyMarkup(chatID, messageID, tgbotapi.InlineKeyboardMarkup{
		InlineKeyboard: [][]tgbotapi.InlineKeyboardButton{},
	})
	if _, err := b.client.Request(edit); err != nil {
		b.log.Warn("edit message markup", zap.Error(err))
	}
}

func (b *Bot) handleMenuAlias(ctx context.Context, msg *tgbotapi.Message) (bool, error) {
	text := strings.TrimSpace(strings.ToLower(msg.Text))
	switch text {
	case strings.ToLower(menuLabelNew):
		return true, b.handleNewTemplate(ctx, msg)
	case strings.ToLower(menuLabelTemplates):
		return true, b.handleListTemplates(ctx, msg)
	case strings.ToLower(menuLabelHelp):
		return true, b.handleHelp(ctx, msg)
	default:
		return false, nil
	}
}

func (b *Bot) ensureUser(ctx context.Context, from *tgbotapi.User) (*model.User, error) {
	return b.userRepo.EnsureUser(ctx, identityOf(from))
}

// fail logs a store failure and tells the user something went wrong.
func (b *Bot) fail(chatID int64, op string, err error) error {
	b.log.Error(op, zap.Int64("chat", chatID), zap.Error(err))
	return b.sendText(chatID, conversation.GenericFailure)
}

// sendReply renders an engine reply: choices become inline buttons, an
// open dialogue gets the cancel keyboard and a finished one the main menu.
func (b *Bot) sendReply(chatID int64, reply conversation.Reply) error {
	switch {
	case len(reply.Choices) > 0:
		return b.sendWithReplyMarkup(chatID, reply.Text, choiceKeyboard(reply.Choices))
	case reply.Done:
		return b.sendText(chatID, reply.Text)
	default:
		return b.sendWithReplyMarkup(chatID, reply.Text, cancelKeyboard())
	}
}

func (b *Bot) sendText(chatID int64, text string) error {
	return b.sendWithReplyMarkup(chatID, text, mainMenuKeyboard())
}

func (b *Bot) sendWithReplyMarkup(chatID int64, text string, markup interface{}) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyMarkup = markup
	_, err := b.client.Send(msg)
	return err
}

func identityOf(from *tgbotapi.User) repository.Identity {
	name := strings.TrimSpace(strings.TrimSpace(from.FirstName) + " " + strings.TrimSpace(from.LastName))
	return repository.Identity{
		TelegramID:  from.ID,
		DisplayName: name,
		Handle:      from.UserName,
	}
}

// formatTemplateList renders one entry per template and packs the entries
// into as few messages as the size limit allows.
func formatTemplateList(templates []model.Template, requesterID int64) []string {
	entries := make([]string, 0, len(templates))
	for i, tpl := range templates {
		marker := ""
		if tpl.IsShared && tpl.OwnerID != requesterID {
			marker = " 🌐"
		}
		name := strings.TrimSpace(tpl.Name)
		if name == "" {
			name = "&lt;no name&gt;"
		} else {
			name = escape(name)
		}
		entries = append(entries, fmt.Sprintf("%d. <b>%s</b>%s — %s\n   <code>%s</code>", i+1, name, marker, conversation.ButtonCount(len(tpl.Buttons)), escape(tpl.ID)))
	}
	return packLines("📋 <b>Templates</b>", entries, maxMessageBytes)
}

// packLines joins lines with newlines into messages of at most limit bytes.
// The header opens the first message. Byte length never undercounts the
// UTF-16 length Telegram measures.
func packLines(header string, lines []string, limit int) []string {
	var parts []string
	current := header
	for _, line := range lines {
		if current != "" && len(current)+1+len(line) > limit {
			parts = append(parts, current)
			current = ""
		}
		if current != "" {
			current += "\n"
		}
		current += line
	}
	if current != "" {
		parts = append(parts, current)
	}
	return parts
}

func templateKeyboard(buttons []model.Button) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(buttons))
	for _, btn := range buttons {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonURL(btn.Label, btn.URL)))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func choiceKeyboard(choices []conversation.Choice) tgbotapi.InlineKeyboardMarkup {
	row := make([]tgbotapi.InlineKeyboardButton, 0, len(choices))
	for _, c := range choices {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(choiceLabels[c], cbChoicePrefix+string(c)))
	}
	return tgbotapi.NewInlineKeyboardMarkup(row)
}

func mainMenuKeyboard() tgbotapi.ReplyKeyboardMarkup {
	kb := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(menuLabelNew),
			tgbotapi.NewKeyboardButton(menuLabelTemplates),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(menuLabelHelp),
		),
	)
	kb.ResizeKeyboard = true
	kb.OneTimeKeyboard = false
	return kb
}

func cancelKeyboard() tgbotapi.ReplyKeyboardMarkup {
	kb := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(btnCancelDialog),
		),
	)
	kb.ResizeKeyboard = true
	kb.OneTimeKeyboard = true
	return kb
}

func isCancelDialogInput(text string) bool {
	value := strings.TrimSpace(strings.ToLower(text))
	return value == strings.ToLower(btnCancelDialog)
}

func escape(s string) string {
	return html.EscapeString(s)
}
