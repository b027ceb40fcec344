package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"
)

// Show prints recent samples and status transitions.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show samples")
	}
	if closeStore != nil {
		defer closeStore()
	}

	samples, err := store.ListRecentSamples(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(samples) == 0 {
		fmt.Fprintln(os.Stdout, "no samples found")
	} else {
		writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(writer, "Time (UTC)\tCollateral\tStatus\tPrice Low\tPrice High\tRefPerTok\tWhen Default\tError")

		for _, sample := range samples {
			errMsg := ""
			if sample.Error != nil {
				errMsg = sanitizeInline(*sample.Error)
			}
			whenDefault := ""
			if sample.WhenDefault != nil {
				whenDefault = sample.WhenDefault.UTC().Format(time.RFC3339)
			}
			fmt.Fprintf(
				writer,
				"%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				sample.Bucket.UTC().Format(time.RFC3339),
				sample.Collateral,
				sample.Status,
				sample.Low.StringFixed(6),
				sample.High.StringFixed(6),
				sample.RefPerTok.StringFixed(6),
				whenDefault,
				errMsg,
			)
		}
		writer.Flush()
	}

	transitions, err := store.ListRecentTransitions(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(transitions) == 0 {
		fmt.Fprintln(os.Stdout, "no status transitions recorded")
		return nil
	}

	fmt.Fprintln(os.Stdout)
	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tCollateral\tTransition\tWhen Default")

	for _, rec := range transitions {
		whenDefault := ""
		if rec.WhenDefault != nil {
			whenDefault = rec.WhenDefault.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s -> %s\t%s\n",
			rec.OccurredAt.UTC().Format(time.RFC3339),
			rec.Collateral,
			rec.OldStatus,
			rec.NewStatus,
			whenDefault,
		)
	}

	return writer.Flush()
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
