package bot

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/glebk/draw-bot/internal/domain"
	"github.com/glebk/draw-bot/internal/service"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const historySize = 10

// sender is the part of the Telegram API the handlers use
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Bot represents the Telegram bot
type Bot struct {
	api     *tgbotapi.BotAPI
	sender  sender
	service *service.DrawService
	clock   func() time.Time
}

// New creates a new Bot instance
func New(token string, draws *service.DrawService) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	log.Printf("Authorized on account %s", api.Self.UserName)

	b := newBot(api, draws)
	b.api = api
	return b, nil
}

func newBot(s sender, draws *service.DrawService) *Bot {
	return &Bot{
		sender:  s,
		service: draws,
		clock:   time.Now,
	}
}

// Start polls for updates until ctx is cancelled
func (b *Bot) Start(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message != nil {
				b.handleMessage(ctx, update.Message)
			} else if update.CallbackQuery != nil {
				b.handleCallbackQuery(ctx, update.CallbackQuery)
			}
		}
	}
}

// handleMessage handles incoming messages
func (b *Bot) handleMessage(ctx context.Context, message *tgbotapi.Message) {
	if message.IsCommand() {
		b.handleCommand(ctx, message)
	}
}

// handleCommand handles bot commands
func (b *Bot) handleCommand(ctx context.Context, message *tgbotapi.Message) {
	switch message.Command() {
	case "start", "help":
		b.handleHelp(message)
	case "new":
		b.handleNew(ctx, message)
	case "draw":
		b.handleDraw(ctx, message)
	case "status":
		b.handleStatus(ctx, message)
	case "reset":
		b.handleReset(ctx, message)
	case "cooldowns":
		b.handleCooldowns(ctx, message)
	case "history":
		b.handleHistory(ctx, message)
	case "delete":
		b.handleDelete(ctx, message)
	default:
		b.sendMessage(message.Chat.ID, "Unknown command. Use /help to see what I can do")
	}
}

// handleHelp handles the /start and /help commands
func (b *Bot) handleHelp(message *tgbotapi.Message) {
	msg := tgbotapi.NewMessage(message.Chat.ID, helpText)
	msg.ParseMode = "Markdown"

	if _, err := b.sender.Send(msg); err != nil {
		log.Printf("Error sending help message: %v", err)
	}
}

// handleNew creates a session owned by the chat
func (b *Bot) handleNew(ctx context.Context, message *tgbotapi.Message) {
	chatID := message.Chat.ID

	setup, err := parseNewSession(message.CommandArguments())
	if err != nil {
		b.sendMessage(chatID, "❌ "+err.Error()+"\n\nExample: /new Alice, Bob | Sword: 1, Shield: 24")
		return
	}
	setup.OwnerID = ownerID(chatID)

	id, err := b.service.CreateSession(ctx, setup)
	if err != nil {
		b.sendError(chatID, err)
		return
	}

	session, err := b.service.GetOwnedSession(ctx, id, setup.OwnerID)
	if err != nil || session == nil {
		log.Printf("Error reloading session %s: %v", id, err)
		b.sendMessage(chatID, "✅ Session created. Use /draw to pick a winner.")
		return
	}

	msg := tgbotapi.NewMessage(chatID, formatCreated(session))
	msg.ReplyMarkup = itemsKeyboard(session)
	if _, err := b.sender.Send(msg); err != nil {
		log.Printf("Error sending session summary: %v", err)
	}
}

// handleDraw draws the numbered item, or offers a keyboard when no number is given
func (b *Bot) handleDraw(ctx context.Context, message *tgbotapi.Message) {
	chatID := message.Chat.ID

	session, ok := b.currentSession(ctx, chatID)
	if !ok {
		return
	}

	arg := strings.TrimSpace(message.CommandArguments())
	if arg == "" {
		msg := tgbotapi.NewMessage(chatID, "Which item do you want to draw?")
		msg.ReplyMarkup = itemsKeyboard(session)
		if _, err := b.sender.Send(msg); err != nil {
			log.Printf("Error sending item keyboard: %v", err)
		}
		return
	}

	index, err := parseItemNumber(arg)
	if err != nil {
		b.sendMessage(chatID, "❌ "+err.Error())
		return
	}

	text, err := b.draw(ctx, chatID, session, index)
	if err != nil {
		b.sendError(chatID, err)
		return
	}
	b.sendMessage(chatID, text)
}

// draw performs the draw and sends the winner's sound when one resolves to a URL
func (b *Bot) draw(ctx context.Context, chatID int64, session *domain.Session, index int) (string, error) {
	result, err := b.service.PerformDraw(ctx, session.ID, index)
	if err != nil {
		return "", err
	}

	item, _ := session.Item(index)
	if strings.HasPrefix(result.AudioRef, "http") {
		audio := tgbotapi.NewAudio(chatID, tgbotapi.FileURL(result.AudioRef))
		audio.Caption = result.Winner
		if _, err := b.sender.Send(audio); err != nil {
			log.Printf("Error sending winner audio: %v", err)
		}
	}

	return formatDraw(result, item.CooldownHours), nil
}

// handleStatus shows the chat's current session
func (b *Bot) handleStatus(ctx context.Context, message *tgbotapi.Message) {
	session, ok := b.currentSession(ctx, message.Chat.ID)
	if !ok {
		return
	}
	b.sendMessage(message.Chat.ID, formatStatus(session, b.clock()))
}

// handleReset clears the session cooldowns; shared cooldowns stay
func (b *Bot) handleReset(ctx context.Context, message *tgbotapi.Message) {
	chatID := message.Chat.ID

	session, ok := b.currentSession(ctx, chatID)
	if !ok {
		return
	}
	if err := b.service.ResetCooldowns(ctx, session.ID); err != nil {
		b.sendError(chatID, err)
		return
	}

	text := "🔄 Session cooldowns cleared."
	if b.service.GlobalLedgerEnabled() {
		text += " Shared cooldowns still apply, see /cooldowns"
	}
	b.sendMessage(chatID, text)
}

func (b *Bot) handleCooldowns(ctx context.Context, message *tgbotapi.Message) {
	cooldowns, err := b.service.GlobalCooldowns(ctx)
	if err != nil {
		b.sendError(message.Chat.ID, err)
		return
	}
	b.sendMessage(message.Chat.ID, formatCooldowns(cooldowns, b.clock()))
}

func (b *Bot) handleHistory(ctx context.Context, message *tgbotapi.Message) {
	entries, err := b.service.GlobalHistory(ctx, historySize)
	if err != nil {
		b.sendError(message.Chat.ID, err)
		return
	}
	b.sendMessage(message.Chat.ID, formatHistory(entries))
}

func (b *Bot) handleDelete(ctx context.Context, message *tgbotapi.Message) {
	chatID := message.Chat.ID

	session, ok := b.currentSession(ctx, chatID)
	if !ok {
		return
	}
	if err := b.service.DeleteSession(ctx, session.ID, ownerID(chatID)); err != nil {
		b.sendError(chatID, err)
		return
	}
	b.sendMessage(chatID, "🗑 Session deleted. Winners stay in /history")
}

// handleCallbackQuery handles item keyboard presses
func (b *Bot) handleCallbackQuery(ctx context.Context, query *tgbotapi.CallbackQuery) {
	action, sessionID, index, err := parseCallback(query.Data)
	if err != nil || action != drawAction {
		b.answerCallback(query.ID, "Invalid response")
		return
	}
	if query.Message == nil || query.Message.Chat == nil {
		b.answerCallback(query.ID, "Message is too old")
		return
	}
	chatID := query.Message.Chat.ID

	session, err := b.service.GetOwnedSession(ctx, sessionID, ownerID(chatID))
	if err != nil {
		log.Printf("Error getting session %s: %v", sessionID, err)
		b.answerCallback(query.ID, "❌ Something went wrong")
		return
	}
	if session == nil {
		b.answerCallback(query.ID, "❌ This session no longer exists")
		return
	}

	text, err := b.draw(ctx, chatID, session, index)
	if err != nil {
		b.answerCallback(query.ID, formatError(err))
		return
	}

	b.answerCallback(query.ID, "🎉")
	b.sendMessage(chatID, text)
}

// currentSession loads the chat's latest session and tells the user when there is none
func (b *Bot) currentSession(ctx context.Context, chatID int64) (*domain.Session, bool) {
	session, err := b.service.LatestOwnedSession(ctx, ownerID(chatID))
	if err != nil {
		log.Printf("Error getting session for chat %d: %v", chatID, err)
		b.sendMessage(chatID, formatError(err))
		return nil, false
	}
	if session == nil {
		b.sendMessage(chatID, formatError(domain.ErrSessionNotFound))
		return nil, false
	}
	return session, true
}

func itemsKeyboard(session *domain.Session) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(session.Items))
	for i, item := range session.Items {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🎲 "+item.Name, drawCallbackData(session.ID, i)),
		))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func (b *Bot) sendError(chatID int64, err error) {
	if domain.CodeOf(err) == "" {
		log.Printf("Error handling chat %d: %v", chatID, err)
	}
	b.sendMessage(chatID, formatError(err))
}

// sendMessage sends a simple text message
func (b *Bot) sendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.sender.Send(msg); err != nil {
		log.Printf("Error sending message: %v", err)
	}
}

// answerCallback answers a callback query
func (b *Bot) answerCallback(callbackID string, text string) {
	callback := tgbotapi.NewCallback(callbackID, text)
	if _, err := b.sender.Request(callback); err != nil {
		log.Printf("Error answering callback: %v", err)
	}
}
