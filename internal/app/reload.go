package app

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/MrWong99/hearken/internal/config"
)

// Reload applies the hot-reloadable fields of d to the running subsystems.
// It has the shape of a [config.ReloadFunc]. Detector settings that fail
// validation keep their previous values and are reported in the returned
// error; the remaining fields are still applied.
func (a *App) Reload(d config.ConfigDiff) error {
	var errs []error

	if d.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(d.NewLogLevel.Level())
		slog.Info("app: log level changed", "level", d.NewLogLevel)
	}
	if d.ThresholdChanged {
		if err := a.det.SetThreshold(d.NewThreshold); err != nil {
			errs = append(errs, fmt.Errorf("app: reload threshold: %w", err))
		} else {
			slog.Info("app: score threshold changed", "threshold", d.NewThreshold)
		}
	}
	if d.SuppressionChanged {
		if err := a.det.SetSuppression(d.NewSuppression); err != nil {
			errs = append(errs, fmt.Errorf("app: reload suppression: %w", err))
		} else {
			slog.Info("app: suppression changed", "suppression", d.NewSuppression)
		}
	}
	if d.IncludeOtherChanged {
		a.broker.SetIncludeOther(d.NewIncludeOther)
		slog.Info("app: include_other_label changed", "include", d.NewIncludeOther)
	}
	return errors.Join(errs...)
}
