package service

import (
	"time"

	"meetdesk/internal/config"
	"meetdesk/internal/models"
	"meetdesk/internal/retry"
)

// Options are the scheduling rules shared by the services.
type Options struct {
	Slots                   []string
	Location                *time.Location
	MaxReschedules          int
	MaxMonthlyCancellations int
	MaxBookingDays          int
	DuplicateWindow         time.Duration
	ReadTimeout             time.Duration
	WriteTimeout            time.Duration
	SlotCacheTTL            time.Duration
	WriteRetry              retry.Config
}

func OptionsFromConfig(cfg config.SchedulingConfig) Options {
	opts := Options{
		Slots:                   cfg.Slots,
		Location:                cfg.Location(),
		MaxReschedules:          cfg.MaxReschedules,
		MaxMonthlyCancellations: cfg.MaxMonthlyCancellations,
		MaxBookingDays:          cfg.MaxBookingDays,
		DuplicateWindow:         cfg.DuplicateWindow,
		ReadTimeout:             cfg.ReadTimeout,
		WriteTimeout:            cfg.WriteTimeout,
		SlotCacheTTL:            cfg.SlotCacheTTL,
	}
	opts.applyDefaults()
	return opts
}

func (o *Options) applyDefaults() {
	if len(o.Slots) == 0 {
		o.Slots = models.DefaultSlots
	}
	if o.Location == nil {
		o.Location = time.UTC
	}
	if o.MaxReschedules <= 0 {
		o.MaxReschedules = models.MaxReschedules
	}
	if o.MaxMonthlyCancellations <= 0 {
		o.MaxMonthlyCancellations = models.MaxMonthlyCancellations
	}
	if o.MaxBookingDays <= 0 {
		o.MaxBookingDays = models.DefaultMaxBookingDays
	}
	if o.DuplicateWindow <= 0 {
		o.DuplicateWindow = models.DuplicateWindow
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = models.DefaultReadTimeout
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = models.DefaultWriteTimeout
	}
	if o.SlotCacheTTL <= 0 {
		o.SlotCacheTTL = models.SlotCacheTTL
	}
	if o.WriteRetry.MaxAttempts == 0 {
		o.WriteRetry = retry.DefaultConfig()
		o.WriteRetry.MaxTotalTimeout = o.WriteTimeout
	}
}
