package main

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/subbill/pkg/billing"
	"github.com/platinummonkey/subbill/pkg/observability"
)

// jobs runs the scheduled billing work
type jobs struct {
	generator *billing.Generator
	renewer   *billing.Renewer
	logger    *logrus.Logger
	events    *observability.Logger
}

func (j *jobs) runNamed(ctx context.Context, name string) error {
	switch name {
	case "generate":
		return j.generate(ctx)
	case "renew":
		return j.renew(ctx)
	case "all":
		// Renew first so generation bills the renewed plans
		if err := j.renew(ctx); err != nil {
			return err
		}
		return j.generate(ctx)
	}
	return fmt.Errorf("unknown job %q (must be generate, renew or all)", name)
}

// run executes a scheduled job, logging its error and surviving panics
func (j *jobs) run(ctx context.Context, name string, fn func(context.Context) error) {
	defer observability.RecoverPanic(j.events, name+" job")

	start := time.Now()
	if err := fn(observability.WithActor(ctx, "scheduler")); err != nil {
		j.logger.WithField("job", name).Errorf("Job failed: %v", err)
		return
	}
	j.logger.WithFields(logrus.Fields{
		"job":      name,
		"duration": time.Since(start).String(),
	}).Info("Job completed")
}

func (j *jobs) generate(ctx context.Context) error {
	result, err := j.generator.GenerateMonthlyOrders(ctx)
	if err != nil {
		return err
	}

	entry := j.logger.WithFields(logrus.Fields{
		"due_date": result.DueDate.Format("2006-01-02"),
		"success":  result.Success,
		"failed":   result.Failed,
		"skipped":  result.Skipped,
	})
	for _, f := range result.Failures {
		entry.WithField("subscription_id", f.SubscriptionID).Warnf("Order not generated: %s", f.Reason)
	}
	entry.Info("Monthly order generation finished")
	return nil
}

func (j *jobs) renew(ctx context.Context) error {
	result, err := j.renewer.RenewDue(ctx)
	if err != nil {
		return err
	}

	j.logger.WithFields(logrus.Fields{
		"renewed":              result.Renewed,
		"plan_changes_applied": result.PlanChangesApplied,
		"canceled":             result.Canceled,
		"failed":               result.Failed,
	}).Info("Renewal pass finished")
	return nil
}
