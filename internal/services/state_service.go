package services

import (
	"context"
	"errors"
	"time"

	"github.com/yoockh/dmcommerce/internal/models"
	pgrepo "github.com/yoockh/dmcommerce/internal/repositories/postgres"
	"github.com/yoockh/dmcommerce/internal/utils"

	"gorm.io/datatypes"
)

const (
	maxQuestionRunes = 500
	maxAnswerRunes   = 800
)

// StateUpdate is the working set written by StateService.Update. A nil
// Selected keeps the stored product; ClearSelected drops it.
type StateUpdate struct {
	ConversationID    string
	Intent            string
	Category          string
	SlotsRequired     []string
	SlotsFilled       map[string]any
	LastQuestion      string
	LastUserMessageID string
	Selected          *models.SelectedProduct
	ClearSelected     bool
}

type StateService interface {
	GetOrCreate(ctx context.Context, conversationID string) (*models.ConversationState, error)
	Update(ctx context.Context, u StateUpdate) (*models.ConversationState, error)
	// RecordBotAction caches the sent answer under the action key and
	// advances the loop counter when the handler repeats itself for the
	// same key.
	RecordBotAction(ctx context.Context, conversationID string, a BotAction) (*models.ConversationState, error)
}

// BotAction is one delivered reply. Raw is the answer as produced, before
// any rewrite; empty means Answer went out unchanged.
type BotAction struct {
	IntentKey string
	Handler   string
	Answer    string
	Raw       string
}

type stateService struct {
	states pgrepo.StateRepository
	now    func() time.Time
}

func NewStateService(states pgrepo.StateRepository) StateService {
	return &stateService{states: states, now: func() time.Time { return time.Now().UTC() }}
}

func newState(conversationID string, now time.Time) *models.ConversationState {
	return &models.ConversationState{
		ConversationID:  conversationID,
		Intent:          models.StateIntentUnknown,
		SlotsFilled:     datatypes.JSONMap{},
		LastBotAnswers:  datatypes.NewJSONType(map[string]string{}),
		SelectedProduct: datatypes.NewJSONType(models.SelectedProduct{}),
		UpdatedAt:       now,
	}
}

func (s *stateService) GetOrCreate(ctx context.Context, conversationID string) (*models.ConversationState, error) {
	const op = "StateService.GetOrCreate"

	if conversationID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "conversation_id is required", nil)
	}

	st, err := s.states.Get(ctx, conversationID)
	if err == nil {
		return st, nil
	}
	if !errors.Is(err, utils.ErrNotFound) {
		return nil, utils.E(utils.CodeInternal, op, "failed to load state", err)
	}

	if err := s.states.Insert(ctx, newState(conversationID, s.now())); err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to create state", err)
	}
	// re-read: a concurrent insert may have won.
	st, err = s.states.Get(ctx, conversationID)
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to load state", err)
	}
	return st, nil
}

func (s *stateService) Update(ctx context.Context, u StateUpdate) (*models.ConversationState, error) {
	const op = "StateService.Update"

	st, err := s.GetOrCreate(ctx, u.ConversationID)
	if err != nil {
		return nil, err
	}

	prevIntent := st.Intent
	prevSelected := st.Selected().ID

	selected := st.Selected()
	switch {
	case u.ClearSelected:
		selected = models.SelectedProduct{}
	case u.Selected != nil:
		selected = *u.Selected
	}

	intent := u.Intent
	if intent == "" {
		intent = models.StateIntentUnknown
	}
	if !selected.Empty() && intent != models.StateIntentOrderFlow {
		intent = models.StateIntentProductSelected
	}

	filled := datatypes.JSONMap{}
	for k, v := range u.SlotsFilled {
		filled[k] = v
	}

	st.Intent = intent
	st.Category = u.Category
	st.SlotsRequired = append([]string(nil), u.SlotsRequired...)
	st.SlotsFilled = filled
	st.LastUserQuestion = utils.Truncate(u.LastQuestion, maxQuestionRunes)
	if u.LastUserMessageID != "" {
		st.LastUserMessageID = u.LastUserMessageID
	}
	st.SelectedProduct = datatypes.NewJSONType(selected)
	if intent != prevIntent || selected.ID != prevSelected {
		st.LoopCounter = 0
	}
	st.UpdatedAt = s.now()

	if err := s.states.Save(ctx, st); err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to save state", err)
	}
	return st, nil
}

func (s *stateService) RecordBotAction(ctx context.Context, conversationID string, a BotAction) (*models.ConversationState, error) {
	const op = "StateService.RecordBotAction"

	if a.IntentKey == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "intent key is required", nil)
	}
	st, err := s.GetOrCreate(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	answers := st.Answers()
	answer := utils.Truncate(a.Answer, maxAnswerRunes)
	if answer != "" {
		raw := utils.Truncate(utils.FirstNonEmpty(a.Raw, a.Answer), maxAnswerRunes)
		prev := utils.FirstNonEmpty(st.LastRawAnswer, answers[a.IntentKey])
		repeated := a.Handler != "" &&
			a.Handler == st.LastHandlerUsed &&
			a.IntentKey == st.LastBotAction &&
			IsNearRepeat(raw, prev)
		if repeated {
			st.LoopCounter++
		} else {
			st.LoopCounter = 0
		}
		answers[a.IntentKey] = answer
		st.LastRawAnswer = raw
	}

	st.LastBotAnswers = datatypes.NewJSONType(answers)
	st.LastBotAction = a.IntentKey
	if a.Handler != "" {
		st.LastHandlerUsed = a.Handler
	}
	st.UpdatedAt = s.now()

	if err := s.states.Save(ctx, st); err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to save state", err)
	}
	return st, nil
}
