package app

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"collateralwatch/internal/registry"
	"collateralwatch/internal/service"
	"collateralwatch/internal/storage"
)

// Status refreshes every configured collateral once and prints the basket.
func (a *App) Status(ctx context.Context, opts StatusOptions) error {
	client := a.newChainClient()
	defer client.Close()

	reg, err := a.buildBasket(client)
	if err != nil {
		return err
	}
	collaterals := reg.Collaterals()
	if len(collaterals) == 0 {
		return fmt.Errorf("no collaterals configured")
	}

	results := a.refreshOnce(ctx, reg, opts.Persist)

	errByName := make(map[string]error, len(results))
	for _, res := range results {
		errByName[res.Collateral] = res.Err
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Collateral\tTarget\tStatus\tWhen Default (UTC)\tRefPerTok\tPrice Low\tPrice High\tError")

	for _, c := range collaterals {
		whenDefault := ""
		if t, ok := c.WhenDefault(); ok {
			whenDefault = t.Format(time.RFC3339)
		}

		rate, low, high := "-", "-", "-"
		if r, rateErr := c.RefPerTok(ctx); rateErr == nil {
			rate = r.Decimal().StringFixed(6)
		}
		if l, h, priceErr := c.Price(ctx); priceErr == nil {
			low = l.Decimal().StringFixed(6)
			high = h.Decimal().StringFixed(6)
		}

		errMsg := ""
		if err := errByName[c.Name()]; err != nil {
			errMsg = sanitizeInline(err.Error())
		}

		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			c.Name(),
			c.TargetName(),
			c.Status().String(),
			whenDefault,
			rate,
			low,
			high,
			errMsg,
		)
	}

	return writer.Flush()
}

// refreshOnce runs one refresh pass, through the persistence pipeline when
// requested and a database is configured.
func (a *App) refreshOnce(ctx context.Context, reg *registry.Registry, persist bool) []registry.RefreshResult {
	if persist {
		store, closeStore, err := a.openStore(ctx)
		if err != nil {
			a.Logger.Error().Err(err).Msg("failed to open store; refreshing without persistence")
		} else if store != nil {
			if closeStore != nil {
				defer closeStore()
			}
			var sampleStore storage.SampleStore = store
			var transitionStore storage.TransitionStore = store
			svc := service.New(a.Config, nil, reg, sampleStore, transitionStore, a.newNotifier(), nil, a.Logger)
			bucket := time.Now().UTC().Truncate(a.Config.Scheduler.Interval)
			if err := svc.ProcessBucket(ctx, bucket); err != nil {
				a.Logger.Error().Err(err).Msg("persisted refresh failed")
			}
			return collectResults(ctx, reg)
		}
	}
	return reg.RefreshAll(ctx)
}

// collectResults re-reads statuses after a service-driven pass so the
// printed table matches what was persisted.
func collectResults(ctx context.Context, reg *registry.Registry) []registry.RefreshResult {
	collaterals := reg.Collaterals()
	results := make([]registry.RefreshResult, 0, len(collaterals))
	for _, c := range collaterals {
		results = append(results, registry.RefreshResult{
			Collateral: c.Name(),
			Status:     c.Status(),
		})
	}
	return results
}
