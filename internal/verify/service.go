// Package verify is the server-authoritative verification workflow: it
// authenticates a submission, replays the session from the trusted seed,
// compares the claim against the replay and commits the verified result.
//
// A claim that disagrees with the replay is rejected outright and logged as
// a cheat signal. It is never reconciled to the replayed value.
package verify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atmx/score-verifier/internal/auth"
	"github.com/atmx/score-verifier/internal/leaderboard"
	"github.com/atmx/score-verifier/internal/metrics"
	"github.com/atmx/score-verifier/internal/model"
	"github.com/atmx/score-verifier/internal/ratelimit"
	"github.com/atmx/score-verifier/internal/replay"
	"github.com/atmx/score-verifier/internal/store"
	"github.com/atmx/score-verifier/internal/version"
)

var (
	profitEpsilon = decimal.RequireFromString("0.000000001")
	scoreEpsilon  = decimal.RequireFromString("0.0000001")
)

// Replayer re-derives a session outcome. *replay.Interpreter implements it.
type Replayer interface {
	Replay(seed string, actions []model.TradeAction) (model.ReplayResult, error)
	LogicHash() string
}

// Committer writes verified results. *leaderboard.Committer implements it.
type Committer interface {
	Commit(ctx context.Context, entry *model.LeaderboardEntry) (leaderboard.Result, error)
}

// Notifier is told about every commit that raised a stored best.
type Notifier interface {
	NewHighScore(entry model.LeaderboardEntry, rank int64)
}

// Config bounds what a submission may contain.
type Config struct {
	MinVersion version.Version
	MaxActions int
	MaxTick    uint32
	Timeout    time.Duration
}

// Request is one authenticated submission.
type Request struct {
	UserID           string
	AttestationToken string
	Submission       model.Submission
}

// State is a verification state-machine state.
type State string

const (
	StateIdle           State = "IDLE"
	StateAuthenticating State = "AUTHENTICATING"
	StateReplaying      State = "REPLAYING"
	StateSuccess        State = "SUCCESS"
	StateError          State = "ERROR"
)

// Service runs verifications. It holds no per-request state and is safe for
// concurrent use.
type Service struct {
	replayer  Replayer
	store     store.Store
	committer Committer
	attestor  auth.Attestor
	limiter   ratelimit.Limiter
	notifier  Notifier
	cfg       Config
	now       func() time.Time
	logger    *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithAttestor sets the integrity verifier. The default accepts everything.
func WithAttestor(a auth.Attestor) Option { return func(s *Service) { s.attestor = a } }

// WithLimiter sets the per-user rate limit. The default allows everything.
func WithLimiter(l ratelimit.Limiter) Option { return func(s *Service) { s.limiter = l } }

// WithNotifier sets the new-high-score listener.
func WithNotifier(n Notifier) Option { return func(s *Service) { s.notifier = n } }

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.logger = l } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// NewService wires a verification service.
func NewService(r Replayer, st store.Store, c Committer, cfg Config, opts ...Option) *Service {
	s := &Service{
		replayer:  r,
		store:     st,
		committer: c,
		attestor:  auth.NoopAttestor{},
		limiter:   ratelimit.NewMemoryLimiter(0, time.Minute),
		cfg:       cfg,
		now:       time.Now,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EngineInfo describes the simulation core clients must match.
type EngineInfo struct {
	Version    string `json:"engineVersion"`
	MinVersion string `json:"minEngineVersion"`
	LogicHash  string `json:"logicHash"`
}

// Engine returns the engine description served to clients.
func (s *Service) Engine() EngineInfo {
	return EngineInfo{
		Version:    version.Engine,
		MinVersion: s.cfg.MinVersion.String(),
		LogicHash:  s.replayer.LogicHash(),
	}
}

// run tracks one verification through the state machine.
type run struct {
	state  State
	logger *slog.Logger
}

func (r *run) to(next State) {
	r.logger.Debug("verification state", "from", string(r.state), "to", string(next))
	r.state = next
	metrics.VerificationStates.WithLabelValues(string(next)).Inc()
}

// Verify runs the full workflow. On failure the error is a *Error and the
// response is its wire form.
func (s *Service) Verify(ctx context.Context, req Request) (model.VerificationResponse, error) {
	sub := req.Submission
	r := &run{
		state:  StateIdle,
		logger: s.logger.With("season_id", sub.SeasonID, "user_id", req.UserID),
	}

	resp, err := s.verify(ctx, r, req)
	if err != nil {
		r.to(StateError)
		code := CodeOf(err)
		metrics.SubmissionsTotal.WithLabelValues(string(code)).Inc()
		if code == CodeInternal {
			r.logger.Error("verification failed", "error_code", string(code), "err", err)
		} else {
			r.logger.Info("verification rejected", "error_code", string(code), "err", err)
		}
		return Failure(err), err
	}
	r.to(StateSuccess)
	metrics.SubmissionsTotal.WithLabelValues(string(StateSuccess)).Inc()
	return resp, nil
}

func (s *Service) verify(ctx context.Context, r *run, req Request) (model.VerificationResponse, error) {
	sub := req.Submission

	ok, err := s.limiter.Allow(ctx, req.UserID)
	if err != nil {
		return model.VerificationResponse{}, newError(CodeInternal, "rate limiter unavailable", err)
	}
	if !ok {
		return model.VerificationResponse{}, newError(CodeRateLimited, "too many submissions, slow down", nil)
	}

	r.to(StateAuthenticating)
	if err := s.attestor.Attest(ctx, req.AttestationToken, req.UserID); err != nil {
		return model.VerificationResponse{}, newError(CodeIntegrityRejected, "client integrity check failed", err)
	}

	if err := s.validate(sub); err != nil {
		return model.VerificationResponse{}, err
	}

	seed, err := s.seedFor(ctx, sub.SeasonID, req.UserID)
	if err != nil {
		return model.VerificationResponse{}, err
	}

	r.to(StateReplaying)
	result, err := s.replay(ctx, sub.Bind(req.UserID, seed))
	if err != nil {
		return model.VerificationResponse{}, err
	}
	r.logger.Info("replay complete",
		"draws", result.DrawCount,
		"ticks", result.TicksSimulated,
		"trades", result.TotalTrades,
		"rejected", len(result.RejectedActions),
		"score", result.Score.String(),
	)

	if err := s.compare(r.logger, sub, result); err != nil {
		return model.VerificationResponse{}, err
	}

	entry := &model.LeaderboardEntry{
		SeasonID:       sub.SeasonID,
		UserID:         req.UserID,
		Score:          result.Score,
		ProfitRate:     result.FinalProfitRate,
		PortfolioValue: result.PortfolioValue,
		WinRate:        result.WinRate,
		TotalTrades:    result.TotalTrades,
		SubmissionID:   uuid.New().String(),
		UpdatedAt:      s.now().UTC(),
	}
	committed, err := s.committer.Commit(ctx, entry)
	if err != nil {
		return model.VerificationResponse{}, newError(CodeInternal, "leaderboard commit failed", err)
	}
	if committed.IsNewHighScore && s.notifier != nil {
		s.notifier.NewHighScore(committed.Best, committed.Rank)
	}

	rank := committed.Rank
	isNew := committed.IsNewHighScore
	score := result.Score
	value := result.PortfolioValue
	return model.VerificationResponse{
		Success:        true,
		SubmissionID:   entry.SubmissionID,
		Rank:           &rank,
		Score:          &score,
		IsNewHighScore: &isNew,
		PortfolioValue: &value,
	}, nil
}

// validate checks payload bounds and engine compatibility. Nothing is
// replayed for a payload that fails here.
func (s *Service) validate(sub model.Submission) error {
	if sub.SeasonID == "" {
		return newError(CodeValidation, "seasonId is required", nil)
	}
	if s.cfg.MaxActions > 0 && len(sub.TradeLog) > s.cfg.MaxActions {
		return newError(CodeValidation,
			fmt.Sprintf("trade log has %d actions, maximum is %d", len(sub.TradeLog), s.cfg.MaxActions), nil)
	}
	for i, a := range sub.TradeLog {
		if i > 0 && a.Tick < sub.TradeLog[i-1].Tick {
			return newError(CodeValidation,
				fmt.Sprintf("action %d: tick %d is before tick %d", i, a.Tick, sub.TradeLog[i-1].Tick), nil)
		}
		if s.cfg.MaxTick > 0 && a.Tick > s.cfg.MaxTick {
			return newError(CodeValidation,
				fmt.Sprintf("action %d: tick %d exceeds maximum %d", i, a.Tick, s.cfg.MaxTick), nil)
		}
		if a.Quantity <= 0 {
			return newError(CodeValidation, fmt.Sprintf("action %d: quantity must be positive", i), nil)
		}
		if !a.Type.Valid() {
			return newError(CodeValidation, fmt.Sprintf("action %d: unknown action type %q", i, a.Type), nil)
		}
	}

	if _, err := version.Check(sub.EngineVersion, s.cfg.MinVersion); err != nil {
		return newError(CodeVersionUnsupported,
			fmt.Sprintf("engine version %q is not supported, minimum is %s", sub.EngineVersion, s.cfg.MinVersion), err)
	}
	if sub.LogicHash != "" && sub.LogicHash != s.replayer.LogicHash() {
		return newError(CodeVersionUnsupported, "engine logic hash does not match the server", nil)
	}
	return nil
}

func (s *Service) seedFor(ctx context.Context, seasonID, userID string) (string, error) {
	season, err := s.store.GetSeason(ctx, seasonID)
	if errors.Is(err, store.ErrNotFound) {
		return "", newError(CodeSeasonNotFound, "season not found", err)
	}
	if err != nil {
		return "", newError(CodeInternal, "season lookup failed", err)
	}
	now := s.now()
	if season.Ended(now) {
		return "", newError(CodeSeasonEnded, "season has ended", nil)
	}
	if now.Before(season.StartsAt) {
		return "", newError(CodeSeasonNotFound, "season has not started", nil)
	}

	rec, err := s.store.GetSeedRecord(ctx, seasonID, userID)
	if errors.Is(err, store.ErrNotFound) {
		return "", newError(CodeSeasonNotFound, "no seed issued for this season", err)
	}
	if err != nil {
		return "", newError(CodeInternal, "seed lookup failed", err)
	}
	return rec.Seed, nil
}

type replayOutcome struct {
	result model.ReplayResult
	err    error
}

// replay runs the interpreter under the request deadline. The replay itself
// is not interruptible; on timeout its goroutine finishes and is discarded.
func (s *Service) replay(ctx context.Context, tl model.TradeLog) (model.ReplayResult, error) {
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	start := time.Now()
	done := make(chan replayOutcome, 1)
	go func() {
		res, err := s.replayer.Replay(tl.Seed, tl.Actions)
		done <- replayOutcome{result: res, err: err}
	}()

	select {
	case <-ctx.Done():
		return model.ReplayResult{}, newError(CodeInternal, "replay timed out", ctx.Err())
	case out := <-done:
		metrics.ReplayDuration.Observe(time.Since(start).Seconds())
		if out.err != nil {
			if errors.Is(out.err, replay.ErrTooManyActions) ||
				errors.Is(out.err, replay.ErrTickOutOfRange) ||
				errors.Is(out.err, replay.ErrTickOrder) {
				return model.ReplayResult{}, newError(CodeValidation, "trade log out of bounds", out.err)
			}
			return model.ReplayResult{}, newError(CodeInternal, "replay failed", out.err)
		}
		metrics.ReplayTicks.Observe(float64(out.result.TicksSimulated))
		for _, rej := range out.result.RejectedActions {
			metrics.RejectedActions.WithLabelValues(string(rej.Reason)).Inc()
		}
		return out.result, nil
	}
}

// CheckClaim compares a submission's claims with a replay. The profit rate
// and score must agree within rounding; a claimed draw count must be exact.
func CheckClaim(sub model.Submission, res model.ReplayResult) error {
	if sub.DrawCount != nil && *sub.DrawCount != res.DrawCount {
		return newError(CodeReplayMismatch, "random draw count does not match the replay", nil)
	}
	profitOK := res.FinalProfitRate.Sub(sub.ClaimedProfitRate).Abs().LessThanOrEqual(profitEpsilon)
	scoreOK := res.Score.Sub(sub.ClaimedScore).Abs().LessThanOrEqual(scoreEpsilon)
	if !profitOK || !scoreOK {
		return newError(CodeReplayMismatch, "claimed result does not match the replay", nil)
	}
	return nil
}

func (s *Service) compare(logger *slog.Logger, sub model.Submission, res model.ReplayResult) error {
	err := CheckClaim(sub, res)
	if err == nil {
		return nil
	}

	metrics.ReplayMismatches.Inc()
	attrs := []any{
		"claimed_score", sub.ClaimedScore.String(),
		"replayed_score", res.Score.String(),
		"claimed_profit_rate", sub.ClaimedProfitRate.String(),
		"replayed_profit_rate", res.FinalProfitRate.String(),
		"draws", res.DrawCount,
	}
	if sub.DrawCount != nil {
		attrs = append(attrs, "claimed_draws", *sub.DrawCount)
	}
	logger.Warn("replay mismatch", attrs...)
	return err
}
