package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"

	"github.com/geoglobe/globe/internal/config"
	"github.com/geoglobe/globe/internal/source/geojson"
	"github.com/geoglobe/globe/pkg/core"
)

// runSeed loads entities from a GeoJSON file, or the configured feed when no file is
// given, into the SQL store.
func runSeed(ctx context.Context, args []string) error {
	client := geojson.New(config.GetSourceConfig().GeoJSON)

	var (
		entities []core.Entity
		err      error
	)
	if len(args) > 0 {
		data, rerr := os.ReadFile(args[0])
		if rerr != nil {
			return fmt.Errorf("failed to read %s: %w", args[0], rerr)
		}
		entities, err = client.Decode(data)
	} else {
		entities, err = client.Fetch(ctx)
	}
	if err != nil {
		return err
	}

	store, dbm, err := openStore()
	if err != nil {
		return err
	}
	defer dbm.Close()

	saved, skipped, err := store.Save(ctx, entities)
	if err != nil {
		return err
	}
	total, err := store.Count(ctx)
	if err != nil {
		return err
	}
	Logger.Info("Seeded entities", "saved", saved, "skipped", skipped, "total", total)
	fmt.Printf("saved %s entities (%s skipped), %s stored\n",
		humanize.Comma(int64(saved)), humanize.Comma(int64(skipped)), humanize.Comma(total))
	return nil
}

// runExport writes the SQL store as a GeoJSON FeatureCollection to a file or stdout.
func runExport(ctx context.Context, args []string) error {
	store, dbm, err := openStore()
	if err != nil {
		return err
	}
	defer dbm.Close()

	entities, err := store.Fetch(ctx)
	if err != nil {
		return err
	}
	data, err := geojson.Encode(entities)
	if err != nil {
		return err
	}

	var out io.Writer = os.Stdout
	if len(args) > 0 {
		f, err := os.Create(args[0])
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", args[0], err)
		}
		defer f.Close()
		out = f
	}
	if _, err := out.Write(data); err != nil {
		return fmt.Errorf("failed to write export: %w", err)
	}
	Logger.Info("Exported entities", "count", len(entities), "bytes", humanize.Bytes(uint64(len(data))))
	return nil
}
