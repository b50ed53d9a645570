package payment

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"revenue-engine/pkg/config"
	"revenue-engine/pkg/errutil"
	"revenue-engine/pkg/repository"
	"revenue-engine/services/gateway"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// requiredFields maps a payment method to the detail keys it cannot work
// without. Unknown methods are rejected before any row is written.
var requiredFields = map[string][]string{
	"payfast": {"return_url", "cancel_url", "notify_url"},
	"stripe":  {"payment_method_id"},
	"eft":     {"bank_name", "account_holder", "reference"},
}

type Service struct {
	db       *gorm.DB
	node     *snowflake.Node
	registry *gateway.Registry

	defaultCurrency   string
	allowedCurrencies map[string]bool
	gracePeriod       time.Duration
	gatewayTimeout    time.Duration

	attempts repository.Repository[PaymentAttempt]
	payments repository.Repository[ClientPayment]
}

type Params struct {
	fx.In
	DB       *gorm.DB
	Node     *snowflake.Node
	Registry *gateway.Registry
	Config   *config.Config
}

func NewService(p Params) *Service {
	allowed := make(map[string]bool, len(p.Config.Payment.AllowedCurrencies))
	for _, c := range p.Config.Payment.AllowedCurrencies {
		allowed[c] = true
	}

	grace := p.Config.Payment.ReconciliationGracePeriod
	if grace == 0 {
		grace = 15 * time.Minute
	}

	timeout := p.Config.Payment.GatewayTimeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}

	return &Service{
		db:                p.DB,
		node:              p.Node,
		registry:          p.Registry,
		defaultCurrency:   p.Config.Payment.DefaultCurrency,
		allowedCurrencies: allowed,
		gracePeriod:       grace,
		gatewayTimeout:    timeout,

		attempts: repository.ProvideStore[PaymentAttempt](p.DB),
		payments: repository.ProvideStore[ClientPayment](p.DB),
	}
}

type ProcessPaymentRequest struct {
	ClientID string
	Amount   decimal.Decimal
	Currency string
	Method   string
	Details  map[string]string
}

// PaymentResult is the structured outcome of a payment request. FollowUp
// carries gateway instructions (checkout URL, banking details) untouched.
type PaymentResult struct {
	Success   bool
	AttemptID string
	Status    string
	FollowUp  map[string]string
}

// ProcessPayment validates the request, durably records a pending attempt,
// then dispatches it to the selected gateway. The pending row is committed
// before the gateway call so a crash or transient gateway failure leaves a
// reconcilable attempt, never a lost payment.
func (s *Service) ProcessPayment(ctx context.Context, req ProcessPaymentRequest) (*PaymentResult, error) {
	zapLog := s.logWith(ctx,
		zap.String("client_id", req.ClientID),
		zap.String("method", req.Method),
	)

	if !req.Amount.IsPositive() {
		return nil, errutil.ValidationFailed("amount must be greater than zero", nil)
	}

	currency := req.Currency
	if currency == "" {
		currency = s.defaultCurrency
	}
	if len(s.allowedCurrencies) > 0 && !s.allowedCurrencies[currency] {
		return nil, errutil.ValidationFailed("currency not allowed: "+currency, nil)
	}

	fields, ok := requiredFields[req.Method]
	if !ok {
		return nil, errutil.BadRequest("unsupported payment method: "+req.Method, nil)
	}

	var missing []errutil.Detail
	for _, f := range fields {
		if req.Details[f] == "" {
			missing = append(missing, errutil.Detail{Field: f, Message: "required"})
		}
	}
	if len(missing) > 0 {
		return nil, errutil.ValidationFailed("missing payment details", nil, errutil.WithDetails(missing...))
	}

	details, _ := json.Marshal(req.Details)
	attempt := &PaymentAttempt{
		ID:          s.node.Generate().String(),
		ClientID:    req.ClientID,
		Amount:      req.Amount,
		Currency:    currency,
		Method:      req.Method,
		GatewayName: req.Method,
		Status:      StatusPending,
		Details:     datatypes.JSON(details),
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	if err := s.attempts.Create(ctx, attempt); err != nil {
		zapLog.Error("failed to record payment attempt", zap.Error(err))
		return nil, errutil.Internal("failed to record payment attempt", err, errutil.WithErr(err))
	}

	result, err := s.dispatch(ctx, attempt)
	if err != nil {
		if errors.Is(err, gateway.ErrRejected) {
			zapLog.Warn("gateway rejected payment", zap.String("attempt_id", attempt.ID), zap.Error(err))
			if ferr := s.fail(ctx, attempt.ID); ferr != nil {
				return nil, ferr
			}
			return &PaymentResult{AttemptID: attempt.ID, Status: StatusFailed}, nil
		}

		// Transient failure: the attempt stays pending and reconciliation
		// picks it up after the grace period.
		zapLog.Warn("gateway unavailable, attempt left pending", zap.String("attempt_id", attempt.ID), zap.Error(err))
		return &PaymentResult{Success: true, AttemptID: attempt.ID, Status: StatusPending}, nil
	}

	status := StatusPending
	switch result.Status {
	case gateway.StatusCompleted:
		status = StatusCompleted
	case gateway.StatusFailed:
		status = StatusFailed
	}

	zapLog.Info("payment dispatched",
		zap.String("attempt_id", attempt.ID),
		zap.String("gateway_reference", result.ExternalRef),
		zap.String("status", status),
	)

	return &PaymentResult{
		Success:   status != StatusFailed,
		AttemptID: attempt.ID,
		Status:    status,
		FollowUp:  result.FollowUp,
	}, nil
}

// dispatch submits the attempt to its gateway with a bounded timeout and
// applies the reported outcome. No ledger lock is held while the call is in
// flight. Re-invoked by reconciliation for attempts whose original call
// never reached the gateway.
func (s *Service) dispatch(ctx context.Context, attempt *PaymentAttempt) (*gateway.Result, error) {
	adapter, err := s.registry.Get(attempt.GatewayName)
	if err != nil {
		return nil, err
	}

	var details map[string]string
	_ = json.Unmarshal(attempt.Details, &details)

	chargeCtx, cancel := context.WithTimeout(ctx, s.gatewayTimeout)
	defer cancel()

	result, err := adapter.SubmitCharge(chargeCtx, gateway.ChargeRequest{
		ClientID:  attempt.ClientID,
		Amount:    attempt.Amount,
		Currency:  attempt.Currency,
		Reference: attempt.ID,
		Metadata:  details,
	})
	if err != nil {
		return nil, err
	}

	followUp, _ := json.Marshal(result.FollowUp)
	if err := s.attempts.Update(ctx, attempt.ID, map[string]any{
		"gateway_reference": result.ExternalRef,
		"follow_up":         datatypes.JSON(followUp),
		"updated_at":        time.Now(),
	}); err != nil {
		return nil, err
	}
	attempt.GatewayReference = result.ExternalRef

	switch result.Status {
	case gateway.StatusCompleted:
		if err := s.settle(ctx, attempt); err != nil {
			return nil, err
		}
	case gateway.StatusFailed:
		if err := s.fail(ctx, attempt.ID); err != nil {
			return nil, err
		}
	}

	return result, nil
}

// HandleWebhook reconciles an asynchronous gateway notification into the
// ledger. Replayed deliveries are absorbed: the settle transition is
// compare-and-set and the ClientPayment row is unique per attempt.
func (s *Service) HandleWebhook(ctx context.Context, gatewayName string, payload []byte, signature string) bool {
	zapLog := s.logWith(ctx, zap.String("gateway", gatewayName))

	adapter, err := s.registry.Get(gatewayName)
	if err != nil {
		zapLog.Warn("webhook for unknown gateway")
		return false
	}

	if !adapter.VerifyCallback(payload, signature) {
		zapLog.Warn("webhook signature verification failed")
		return false
	}

	event, err := adapter.ParseCallback(payload)
	if err != nil || event.ExternalRef == "" {
		zapLog.Warn("webhook payload could not be parsed", zap.Error(err))
		return false
	}

	attempt, err := s.attempts.FindOne(ctx, &PaymentAttempt{
		GatewayName:      gatewayName,
		GatewayReference: event.ExternalRef,
	})
	if err != nil {
		zapLog.Error("failed to look up payment attempt", zap.Error(err))
		return false
	}
	if attempt == nil {
		zapLog.Warn("webhook for unknown gateway reference", zap.String("gateway_reference", event.ExternalRef))
		return false
	}

	if err := s.applyTransition(ctx, attempt, event.Status); err != nil {
		zapLog.Error("failed to apply webhook transition", zap.String("attempt_id", attempt.ID), zap.Error(err))
		return false
	}

	zapLog.Info("webhook processed",
		zap.String("attempt_id", attempt.ID),
		zap.String("event_status", string(event.Status)),
	)
	return true
}

// Reconcile resolves attempts that stayed pending past the grace period by
// polling the gateway. Safe to run repeatedly and concurrently with webhook
// delivery: transitions are compare-and-set on the pending status.
func (s *Service) Reconcile(ctx context.Context) error {
	zapLog := s.logWith(ctx)

	cutoff := time.Now().Add(-s.gracePeriod)
	var stale []*PaymentAttempt
	if err := s.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", StatusPending, cutoff).
		Order("created_at ASC").
		Find(&stale).Error; err != nil {
		return err
	}

	for _, attempt := range stale {
		attemptLog := zapLog.With(zap.String("attempt_id", attempt.ID), zap.String("gateway", attempt.GatewayName))

		// The original gateway call never landed; resubmit it.
		if attempt.GatewayReference == "" {
			if _, err := s.dispatch(ctx, attempt); err != nil {
				attemptLog.Warn("resubmission failed", zap.Error(err))
				if errors.Is(err, gateway.ErrRejected) {
					if ferr := s.fail(ctx, attempt.ID); ferr != nil {
						return ferr
					}
				}
			}
			continue
		}

		adapter, err := s.registry.Get(attempt.GatewayName)
		if err != nil {
			attemptLog.Error("attempt references unknown gateway")
			continue
		}

		queryCtx, cancel := context.WithTimeout(ctx, s.gatewayTimeout)
		status, err := adapter.QueryStatus(queryCtx, attempt.GatewayReference)
		cancel()
		if err != nil {
			if errors.Is(err, gateway.ErrRejected) {
				if ferr := s.fail(ctx, attempt.ID); ferr != nil {
					return ferr
				}
				continue
			}
			attemptLog.Warn("status query failed", zap.Error(err))
			continue
		}

		if err := s.applyTransition(ctx, attempt, status); err != nil {
			attemptLog.Error("failed to apply reconciled status", zap.Error(err))
			continue
		}

		if status != gateway.StatusPending {
			attemptLog.Info("attempt reconciled", zap.String("status", string(status)))
		}
	}

	return nil
}

// GetAttempt returns an attempt for status display; nil when unknown.
func (s *Service) GetAttempt(ctx context.Context, attemptID string) (*PaymentAttempt, error) {
	return s.attempts.FindOne(ctx, &PaymentAttempt{ID: attemptID})
}

func (s *Service) applyTransition(ctx context.Context, attempt *PaymentAttempt, status gateway.Status) error {
	switch status {
	case gateway.StatusCompleted:
		return s.settle(ctx, attempt)
	case gateway.StatusFailed:
		return s.fail(ctx, attempt.ID)
	default:
		return nil
	}
}

// settle moves an attempt to completed and ledgers the revenue, in one
// transaction. The status update is compare-and-set: a replayed webhook or
// racing reconciler finds zero affected rows and creates nothing.
func (s *Service) settle(ctx context.Context, attempt *PaymentAttempt) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&PaymentAttempt{}).
			Where("id = ? AND status = ?", attempt.ID, StatusPending).
			Updates(map[string]any{"status": StatusCompleted, "updated_at": time.Now()})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}

		return tx.Create(&ClientPayment{
			ID:              s.node.Generate().String(),
			ClientID:        attempt.ClientID,
			Amount:          attempt.Amount,
			Currency:        attempt.Currency,
			SourceAttemptID: attempt.ID,
			PaymentDate:     time.Now(),
			CreatedAt:       time.Now(),
		}).Error
	})
}

func (s *Service) fail(ctx context.Context, attemptID string) error {
	return s.db.WithContext(ctx).Model(&PaymentAttempt{}).
		Where("id = ? AND status = ?", attemptID, StatusPending).
		Updates(map[string]any{"status": StatusFailed, "updated_at": time.Now()}).Error
}

func (s *Service) logWith(ctx context.Context, fields ...zap.Field) *zap.Logger {
	span := trace.SpanFromContext(ctx)
	fields = append(fields, zap.String("trace_id", span.SpanContext().TraceID().String()))
	return zap.L().With(fields...)
}
