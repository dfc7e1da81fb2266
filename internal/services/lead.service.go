package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/advaic/reply-gateway/internal/model"
	"github.com/advaic/reply-gateway/pkg/logger"
)

type LeadService struct {
	leads   LeadRepository
	changes ChangePublisher
}

func NewLeadService(leads LeadRepository, changes ChangePublisher) *LeadService {
	return &LeadService{leads: leads, changes: changes}
}

// ToggleEscalation flips the escalation flag of a lead and returns the new value.
// Messages of the lead are not touched.
func (s *LeadService) ToggleEscalation(ctx context.Context, agentID, leadID string) (bool, error) {
	if agentID == "" {
		return false, ErrNotLoggedIn
	}
	escalated, err := s.leads.ToggleEscalated(ctx, agentID, leadID)
	if err != nil {
		return false, mapRepoError(err)
	}
	s.publish(ctx, agentID, leadID)
	logger.Info("lead escalation toggled", "lead_id", leadID, "escalated", escalated)
	return escalated, nil
}

// SetStatus closes or reopens a lead. Legacy spellings are accepted.
func (s *LeadService) SetStatus(ctx context.Context, agentID, leadID, raw string) (model.LeadStatus, error) {
	if agentID == "" {
		return "", ErrNotLoggedIn
	}
	status, err := model.NormalizeLeadStatus(raw)
	if err != nil {
		if errors.Is(err, model.ErrUnknownValue) {
			return "", ErrInvalidStatus
		}
		return "", err
	}
	if err := s.leads.SetStatus(ctx, agentID, leadID, status); err != nil {
		return "", mapRepoError(err)
	}
	s.publish(ctx, agentID, leadID)
	return status, nil
}

func (s *LeadService) SetFollowups(ctx context.Context, agentID, leadID string, enabled bool) (model.FollowupUpdate, error) {
	if agentID == "" {
		return model.FollowupUpdate{}, ErrNotLoggedIn
	}
	u := model.NewFollowupUpdate(enabled)
	if err := s.leads.SetFollowups(ctx, agentID, leadID, u); err != nil {
		return model.FollowupUpdate{}, fmt.Errorf("set followups: %w", mapRepoError(err))
	}
	s.publish(ctx, agentID, leadID)
	return u, nil
}

func (s *LeadService) publish(ctx context.Context, agentID, leadID string) {
	if s.changes == nil {
		return
	}
	s.changes.Publish(ctx, model.Change{
		Table:   model.TableLeads,
		Type:    model.ChangeUpdate,
		RowID:   leadID,
		LeadID:  leadID,
		AgentID: agentID,
		At:      time.Now().UTC(),
	})
}
