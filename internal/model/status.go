package model

import (
	"errors"
	"fmt"
	"strings"
)

var ErrUnknownValue = errors.New("unknown status value")

type LeadStatus string

const (
	LeadStatusOpen   LeadStatus = "open"
	LeadStatusClosed LeadStatus = "closed"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

var leadStatusAliases = map[string]LeadStatus{
	"open":        LeadStatusOpen,
	"offen":       LeadStatusOpen,
	"neu":         LeadStatusOpen,
	"new":         LeadStatusOpen,
	"0":           LeadStatusOpen,
	"closed":      LeadStatusClosed,
	"geschlossen": LeadStatusClosed,
	"erledigt":    LeadStatusClosed,
	"done":        LeadStatusClosed,
	"1":           LeadStatusClosed,
}

var priorityAliases = map[string]Priority{
	"1":       PriorityHigh,
	"hoch":    PriorityHigh,
	"high":    PriorityHigh,
	"2":       PriorityNormal,
	"mittel":  PriorityNormal,
	"medium":  PriorityNormal,
	"normal":  PriorityNormal,
	"3":       PriorityLow,
	"niedrig": PriorityLow,
	"low":     PriorityLow,
}

func foldValue(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// NormalizeLeadStatus maps legacy German, English and numeric encodings onto
// the canonical lead status.
func NormalizeLeadStatus(raw string) (LeadStatus, error) {
	if s, ok := leadStatusAliases[foldValue(raw)]; ok {
		return s, nil
	}
	return "", fmt.Errorf("%w: lead status %q", ErrUnknownValue, raw)
}

// NormalizePriority maps legacy priority encodings onto the canonical priority.
// 1 is the most urgent in the numeric encoding.
func NormalizePriority(raw string) (Priority, error) {
	if p, ok := priorityAliases[foldValue(raw)]; ok {
		return p, nil
	}
	return "", fmt.Errorf("%w: priority %q", ErrUnknownValue, raw)
}

func (s LeadStatus) Valid() bool {
	return s == LeadStatusOpen || s == LeadStatusClosed
}

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh:
		return true
	}
	return false
}
