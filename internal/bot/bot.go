package bot

import (
	"context"
	"io"
	"slices"
	"strconv"
	"sync"
	"time"

	"meetdesk/internal/domain"
	"meetdesk/internal/metrics"
	"meetdesk/internal/models"
	"meetdesk/internal/service"

	"github.com/go-playground/validator/v10"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// TelegramAPI is the part of the bot API the dialog uses.
type TelegramAPI interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	StopReceivingUpdates()
	GetSelf() tgbotapi.User
}

// Meetings is the booking core as seen by the dialog.
type Meetings interface {
	Slots(ctx context.Context, rawDate string, refresh bool) ([]models.Slot, error)
	BookMeeting(ctx context.Context, actor models.Actor, req service.BookingRequest) (*service.BookingResult, error)
	RescheduleMeeting(ctx context.Context, actor models.Actor, id string, req service.RescheduleRequest) (*service.RescheduleResult, error)
	CancelMeeting(ctx context.Context, actor models.Actor, id string) (*service.CancelResult, error)
	ChangeStatus(ctx context.Context, actor models.Actor, id, to string) (*models.Meeting, error)
	ListUserMeetings(ctx context.Context, actor models.Actor) []*models.Meeting
	ListMeetings(ctx context.Context, actor models.Actor, filter models.MeetingFilter) ([]*models.Meeting, error)
	ExportMeetings(ctx context.Context, actor models.Actor, filter models.MeetingFilter, w io.Writer) error
	Quota(ctx context.Context, actor models.Actor) models.QuotaView
}

type Options struct {
	ManagerIDs        []int64
	DatePickerDays    int
	RateLimitMessages int
	RateLimitWindow   time.Duration
	Location          *time.Location
}

const (
	StateSelectDate       = "select_date"
	StateSelectSlot       = "select_slot"
	StateEnterName        = "enter_name"
	StateEnterEmail       = "enter_email"
	StateEnterProject     = "enter_project"
	StateEnterDescription = "enter_description"
	StateConfirmation     = "confirmation"
	StateRescheduleDate   = "reschedule_date"
	StateRescheduleSlot   = "reschedule_slot"
)

// Bot runs the booking dialog for Telegram users and the manager commands.
type Bot struct {
	tg       TelegramAPI
	meetings Meetings
	states   domain.StateRepository
	validate *validator.Validate
	opts     Options
	limiters sync.Map
	now      func() time.Time
	logger   *zerolog.Logger
}

func NewBot(tg TelegramAPI, meetings Meetings, states domain.StateRepository, opts Options, logger *zerolog.Logger) *Bot {
	if opts.DatePickerDays <= 0 {
		opts.DatePickerDays = 14
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Bot{
		tg:       tg,
		meetings: meetings,
		states:   states,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		opts:     opts,
		now:      time.Now,
		logger:   logger,
	}
}

func (b *Bot) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.tg.GetUpdatesChan(u)

	b.logger.Info().Str("username", b.tg.GetSelf().UserName).Msg("Authorized on account")

	for {
		select {
		case <-ctx.Done():
			b.logger.Info().Msg("Bot stopping...")
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			b.processUpdate(ctx, update)
		}
	}
}

// Stop stops receiving Telegram updates.
func (b *Bot) Stop() {
	if b == nil || b.tg == nil {
		return
	}
	b.tg.StopReceivingUpdates()
}

func (b *Bot) processUpdate(ctx context.Context, update tgbotapi.Update) {
	start := time.Now()
	defer func() { metrics.ObserveBotUpdate(time.Since(start).Seconds()) }()

	updateCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	l := b.logger.With().Str("request_id", uuid.NewString()).Logger()
	updateCtx = l.WithContext(updateCtx)

	b.withRecovery(func() {
		var userID int64
		switch {
		case update.Message != nil && update.Message.From != nil:
			userID = update.Message.From.ID
		case update.CallbackQuery != nil && update.CallbackQuery.From != nil:
			userID = update.CallbackQuery.From.ID
		}
		if userID == 0 {
			return
		}

		if !b.allow(userID) {
			metrics.IncBotUpdate("rate_limited")
			l.Warn().Int64("user_id", userID).Msg("Rate limit exceeded")
			if update.Message != nil {
				b.sendMessage(update.Message.Chat.ID, msgRateLimited)
			}
			return
		}

		if update.CallbackQuery != nil {
			metrics.IncBotUpdate("callback")
			b.handleCallbackQuery(updateCtx, update.CallbackQuery)
			return
		}
		if update.Message != nil {
			metrics.IncBotUpdate("message")
			b.handleMessage(updateCtx, update.Message)
		}
	})
}

func (b *Bot) withRecovery(handler func()) {
	defer func() {
		if r := recover(); r != nil {
			metrics.IncBotUpdate("panic")
			b.logger.Error().Interface("panic", r).Msg("Recovered from panic in update handler")
		}
	}()
	handler()
}

// allow applies the per-user message budget. Managers are not limited.
func (b *Bot) allow(userID int64) bool {
	if b.opts.RateLimitMessages <= 0 || b.opts.RateLimitWindow <= 0 || b.isManager(userID) {
		return true
	}
	every := b.opts.RateLimitWindow / time.Duration(b.opts.RateLimitMessages)
	val, _ := b.limiters.LoadOrStore(userID, rate.NewLimiter(rate.Every(every), b.opts.RateLimitMessages))
	return val.(*rate.Limiter).Allow()
}

func (b *Bot) isManager(userID int64) bool {
	return slices.Contains(b.opts.ManagerIDs, userID)
}

// ActorID maps a Telegram user to the identity used by the booking core.
func ActorID(userID int64) string {
	return "tg:" + strconv.FormatInt(userID, 10)
}

func (b *Bot) actor(userID int64) models.Actor {
	return models.Actor{UserID: ActorID(userID), IsAdmin: b.isManager(userID)}
}

func (b *Bot) getUserState(ctx context.Context, userID int64) *models.UserState {
	state, err := b.states.GetState(ctx, userID)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Int64("user_id", userID).Msg("failed to get user state")
		return nil
	}
	return state
}

func (b *Bot) setUserState(ctx context.Context, userID int64, state *models.UserState) {
	state.UserID = userID
	if err := b.states.SetState(ctx, state); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Int64("user_id", userID).Msg("failed to set user state")
	}
}

func (b *Bot) clearUserState(ctx context.Context, userID int64) {
	if err := b.states.ClearState(ctx, userID); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Int64("user_id", userID).Msg("failed to clear user state")
	}
}

func (b *Bot) send(c tgbotapi.Chattable) {
	if _, err := b.tg.Send(c); err != nil {
		b.logger.Error().Err(err).Msg("telegram send failed")
	}
}

func (b *Bot) sendMessage(chatID int64, text string) {
	b.send(tgbotapi.NewMessage(chatID, text))
}
