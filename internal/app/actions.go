package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/loadline/negotiator/internal/domain"
)

// TakeOverMessage is the system message appended when a human takes over from the agent.
const TakeOverMessage = "User has taken over the negotiation from the AI agent."

// ResumeAction is a human decision on a paused agent.
type ResumeAction string

const (
	ResumeContinue ResumeAction = "continue"
	ResumeTakeOver ResumeAction = "take_over"
)

// CreateNegotiationInput opens a negotiation for a freight offer.
type CreateNegotiationInput struct {
	OfferID           string                `json:"offerId"`
	InitialRequest    domain.InitialRequest `json:"initialRequest"`
	EmailSubject      string                `json:"emailSubject,omitempty"`
	EmailCcRecipients []string              `json:"emailCcRecipients,omitempty"`
}

// CreateNegotiation creates a pending negotiation owned by userID.
func (s *NegotiationService) CreateNegotiation(ctx context.Context, userID string, in CreateNegotiationInput) (*domain.Negotiation, error) {
	if userID == "" {
		return nil, ErrNotAuthenticated
	}
	if in.InitialRequest.Origin == "" || in.InitialRequest.Destination == "" {
		return nil, fmt.Errorf("%w: origin and destination are required", ErrInvalidInput)
	}
	n := domain.NewNegotiation(newEntityID(), in.OfferID, userID, in.InitialRequest, s.now())
	n.EmailSubject = strings.TrimSpace(in.EmailSubject)
	n.EmailCcRecipients = in.EmailCcRecipients
	if err := s.repo.Create(ctx, n); err != nil {
		return nil, fmt.Errorf("create negotiation: %w", err)
	}
	if s.events != nil {
		s.events.NegotiationChanged(n)
	}
	return n, nil
}

// GetNegotiation returns a negotiation owned by userID.
func (s *NegotiationService) GetNegotiation(ctx context.Context, userID, id string) (*domain.Negotiation, error) {
	var out *domain.Negotiation
	err := s.authorizedQuery(ctx, userID, id, func(n *domain.Negotiation) error {
		out = n
		return nil
	})
	return out, err
}

// ListNegotiations returns the caller's negotiations.
func (s *NegotiationService) ListNegotiations(ctx context.Context, userID string) ([]*domain.Negotiation, error) {
	if userID == "" {
		return nil, ErrNotAuthenticated
	}
	return s.repo.ListByUser(ctx, userID)
}

// DeleteNegotiation removes a negotiation and its agent configuration.
func (s *NegotiationService) DeleteNegotiation(ctx context.Context, userID, id string) error {
	if err := s.authorizedQuery(ctx, userID, id, func(*domain.Negotiation) error { return nil }); err != nil {
		return err
	}
	unlock := s.locks.Lock(id)
	defer unlock()
	if err := s.configs.DeleteAgentConfig(ctx, id); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("delete agent config: %w", err)
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete negotiation: %w", err)
	}
	return nil
}

// ActivateAgent turns the agent on, stores its configuration and schedules an immediate run.
func (s *NegotiationService) ActivateAgent(ctx context.Context, userID, id string, targetPerKm float64, settings AgentSettings) (*domain.Negotiation, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	var out *domain.Negotiation
	err := s.authorizedRun(ctx, userID, id, func(n *domain.Negotiation) error {
		if err := n.ActivateAgent(targetPerKm, s.now()); err != nil {
			if errors.Is(err, domain.ErrInvalidTarget) {
				return fmt.Errorf("%w: %v", ErrInvalidInput, err)
			}
			return err
		}
		out = n
		return nil
	})
	if err != nil {
		return nil, err
	}
	if _, err := s.saveSettings(ctx, id, settings, nil); err != nil {
		return nil, err
	}
	if err := s.scheduleRun(ctx, id, "activate:"+newLogID()); err != nil {
		return nil, err
	}
	return out, nil
}

// DeactivateAgent turns the agent off. The configuration is kept.
func (s *NegotiationService) DeactivateAgent(ctx context.Context, userID, id string) (*domain.Negotiation, error) {
	var out *domain.Negotiation
	err := s.authorizedRun(ctx, userID, id, func(n *domain.Negotiation) error {
		n.DeactivateAgent(s.now())
		out = n
		return nil
	})
	return out, err
}

// GetAgentConfig returns the stored configuration or defaults.
func (s *NegotiationService) GetAgentConfig(ctx context.Context, userID, id string) (domain.AgentConfig, error) {
	if err := s.authorizedQuery(ctx, userID, id, func(*domain.Negotiation) error { return nil }); err != nil {
		return domain.AgentConfig{}, err
	}
	return s.AgentConfig(ctx, id)
}

// UpdateAgentSettings merges settings into the stored configuration.
func (s *NegotiationService) UpdateAgentSettings(ctx context.Context, userID, id string, settings AgentSettings) (domain.AgentConfig, error) {
	if err := settings.Validate(); err != nil {
		return domain.AgentConfig{}, err
	}
	if err := s.authorizedQuery(ctx, userID, id, func(*domain.Negotiation) error { return nil }); err != nil {
		return domain.AgentConfig{}, err
	}
	return s.saveSettings(ctx, id, settings, nil)
}

// AcceptNegotiation closes the negotiation as accepted, freezing the final price.
func (s *NegotiationService) AcceptNegotiation(ctx context.Context, userID, id string) (*domain.Negotiation, error) {
	var out *domain.Negotiation
	err := s.authorizedRun(ctx, userID, id, func(n *domain.Negotiation) error {
		if err := n.Accept(s.now()); err != nil {
			return err
		}
		out = n
		return nil
	})
	return out, err
}

// RejectNegotiation closes the negotiation as rejected.
func (s *NegotiationService) RejectNegotiation(ctx context.Context, userID, id string) (*domain.Negotiation, error) {
	var out *domain.Negotiation
	err := s.authorizedRun(ctx, userID, id, func(n *domain.Negotiation) error {
		if err := n.Reject(s.now()); err != nil {
			return err
		}
		out = n
		return nil
	})
	return out, err
}

// AddCounterOffer records a price proposal.
func (s *NegotiationService) AddCounterOffer(ctx context.Context, userID, id string, price float64, proposedBy, notes string) (*domain.CounterOffer, error) {
	if price <= 0 {
		return nil, fmt.Errorf("%w: price must be positive", ErrInvalidInput)
	}
	switch proposedBy {
	case "":
		proposedBy = domain.ProposedByUser
	case domain.ProposedByUser, domain.ProposedByAgent, domain.ProposedByCarrier:
	default:
		return nil, fmt.Errorf("%w: unknown proposer %q", ErrInvalidInput, proposedBy)
	}
	offer := domain.CounterOffer{
		ID:         newLogID(),
		Price:      price,
		ProposedBy: proposedBy,
		Timestamp:  s.now(),
		Status:     domain.OfferPending,
		Notes:      notes,
	}
	err := s.authorizedRun(ctx, userID, id, func(n *domain.Negotiation) error {
		return n.AddCounterOffer(offer)
	})
	if err != nil {
		return nil, err
	}
	return &offer, nil
}

// UpdateCounterOfferStatus changes one offer's status.
func (s *NegotiationService) UpdateCounterOfferStatus(ctx context.Context, userID, id, offerID string, status domain.OfferStatus) (*domain.Negotiation, error) {
	switch status {
	case domain.OfferPending, domain.OfferAccepted, domain.OfferRejected:
	default:
		return nil, fmt.Errorf("%w: unknown offer status %q", ErrInvalidInput, status)
	}
	var out *domain.Negotiation
	err := s.authorizedRun(ctx, userID, id, func(n *domain.Negotiation) error {
		if err := n.UpdateCounterOfferStatus(offerID, status, s.now()); err != nil {
			if errors.Is(err, domain.ErrOfferNotFound) {
				return fmt.Errorf("%w: %v", ErrNotFound, err)
			}
			return err
		}
		out = n
		return nil
	})
	return out, err
}

// SendUserMessage appends a message written by the user and optionally emails it.
func (s *NegotiationService) SendUserMessage(ctx context.Context, userID, id, content string, sendEmail bool) (*domain.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, fmt.Errorf("%w: message content is required", ErrInvalidInput)
	}
	msg := domain.Message{
		ID:        newLogID(),
		Sender:    domain.SenderUser,
		Content:   content,
		Timestamp: s.now(),
	}
	err := s.authorizedRun(ctx, userID, id, func(n *domain.Negotiation) error {
		n.AppendMessage(msg)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if sendEmail && s.scheduler != nil {
		if err := s.scheduler.ScheduleEmail(ctx, id, msg.ID); err != nil {
			return nil, err
		}
	}
	return &msg, nil
}

// ResumeAgent applies a human decision to an active agent. Continue clears the pause,
// resets the reply counter, stores bypass flags and re-runs the agent. Take over
// deactivates the agent and records the hand-over in the conversation.
func (s *NegotiationService) ResumeAgent(ctx context.Context, userID, id string, action ResumeAction, bypass BypassFlags) (*domain.Negotiation, error) {
	var out *domain.Negotiation
	switch action {
	case ResumeContinue:
		err := s.authorizedRun(ctx, userID, id, func(n *domain.Negotiation) error {
			if !n.IsAgentActive {
				return ErrAgentNotActive
			}
			if n.Status.Terminal() {
				return ErrNegotiationClosed
			}
			n.ClearAgentState()
			n.AgentReplyCount = 0
			out = n
			return nil
		})
		if err != nil {
			return nil, err
		}
		if _, err := s.saveSettings(ctx, id, AgentSettings{}, &bypass); err != nil {
			return nil, err
		}
		if err := s.scheduleRun(ctx, id, "resume:"+newLogID()); err != nil {
			return nil, err
		}
		return out, nil

	case ResumeTakeOver:
		err := s.authorizedRun(ctx, userID, id, func(n *domain.Negotiation) error {
			if !n.IsAgentActive {
				return ErrAgentNotActive
			}
			n.DeactivateAgent(s.now())
			n.AppendMessage(domain.Message{
				ID:        newLogID(),
				Sender:    domain.SenderSystem,
				Content:   TakeOverMessage,
				Timestamp: s.now(),
			})
			out = n
			return nil
		})
		return out, err

	default:
		return nil, fmt.Errorf("%w: unknown resume action %q", ErrInvalidInput, action)
	}
}

func (s *NegotiationService) saveSettings(ctx context.Context, id string, settings AgentSettings, bypass *BypassFlags) (domain.AgentConfig, error) {
	cfg, err := s.AgentConfig(ctx, id)
	if err != nil {
		return domain.AgentConfig{}, err
	}
	settings.Apply(&cfg)
	if bypass != nil {
		bypass.Apply(&cfg)
	}
	cfg.NegotiationID = id
	cfg.UpdatedAt = s.now()
	if err := s.configs.SaveAgentConfig(ctx, &cfg); err != nil {
		return domain.AgentConfig{}, fmt.Errorf("save agent config: %w", err)
	}
	return cfg, nil
}

func (s *NegotiationService) scheduleRun(ctx context.Context, id, reference string) error {
	if s.scheduler == nil {
		return nil
	}
	return s.scheduler.ScheduleAgentRun(ctx, id, reference, "")
}

func (s *NegotiationService) authorizedRun(ctx context.Context, userID, id string, fn func(n *domain.Negotiation) error) error {
	if userID == "" {
		return ErrNotAuthenticated
	}
	return s.Run(ctx, id, func(n *domain.Negotiation) error {
		if n.UserID != userID {
			return ErrUnauthorized
		}
		return fn(n)
	})
}

func (s *NegotiationService) authorizedQuery(ctx context.Context, userID, id string, fn func(n *domain.Negotiation) error) error {
	if userID == "" {
		return ErrNotAuthenticated
	}
	return s.Query(ctx, id, func(n *domain.Negotiation) error {
		if n.UserID != userID {
			return ErrUnauthorized
		}
		return fn(n)
	})
}
