package api

import (
	"time"

	"github.com/google/uuid"
)

type MaterializeRequest struct {
	WindowEnd     time.Time `json:"window_end"`
	Rematerialize bool      `json:"rematerialize,omitempty"`
}

type MaterializeResponse struct {
	Created int `json:"created"`
}

type DoseActionRequest struct {
	Action string     `json:"action"` // taken | skipped | missed
	At     *time.Time `json:"at,omitempty"`
}

type DoseResponse struct {
	ID           uuid.UUID  `json:"id"`
	ItemID       uuid.UUID  `json:"item_id"`
	DueAt        time.Time  `json:"due_at"`
	Status       string     `json:"status"`
	TakenAt      *time.Time `json:"taken_at,omitempty"`
	DelayMinutes *int       `json:"delay_minutes,omitempty"`
}

type RefillRequest struct {
	Units int        `json:"units"`
	At    *time.Time `json:"at,omitempty"`
}

type ProjectedEndRequest struct {
	ProjectedEndAt *time.Time `json:"projected_end_at"`
}

type ProjectionResponse struct {
	ItemID        uuid.UUID  `json:"item_id"`
	ItemName      string     `json:"item_name"`
	UnitsLeft     int        `json:"units_left"`
	DailyAvg      float64    `json:"daily_avg"`
	DaysRemaining *int       `json:"days_remaining"` // null when insufficient signal
	Trend         string     `json:"trend"`
	ProjectedEnd  *time.Time `json:"projected_end,omitempty"`
}

type GenerateResponse struct {
	Created int `json:"created"`
}

type DispatchResponse struct {
	Dispatched int `json:"dispatched"`
	Delivered  int `json:"delivered"`
}

type StreakResponse struct {
	Current          int     `json:"current"`
	Longest          int     `json:"longest"`
	TodayAdherence   float64 `json:"today_adherence"`
	FrozenYesterday  bool    `json:"frozen_yesterday"`
	RecoveryProgress int     `json:"recovery_progress"`
	RecoveryTarget   int     `json:"recovery_target"`
}

type AlertResponse struct {
	ID         string     `json:"id"`
	Type       string     `json:"type"`
	Severity   string     `json:"severity"`
	ItemID     *uuid.UUID `json:"item_id,omitempty"`
	Message    string     `json:"message"`
	DetectedAt time.Time  `json:"detected_at"`
}

type MetricsResponse struct {
	Total       int64            `json:"total"`
	Delivered   int64            `json:"delivered"`
	SuccessRate float64          `json:"success_rate"`
	ByStatus    map[string]int64 `json:"by_status"`
	ByChannel   map[string]int64 `json:"by_channel"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
