package app

import (
	"context"
	"fmt"
	"sort"
	"time"

	"relaygram/internal/config"
	"relaygram/internal/storage"
	"relaygram/internal/transform"
	logx "relaygram/pkg/logx"
)

// loadDomain reads the profile directory and the tag dictionary and
// compiles every pattern they carry.
func loadDomain(cfg *config.Config, log logx.Logger) ([]config.Profile, config.GlobalTags, *transform.Transformer, error) {
	profiles, err := config.LoadProfiles(cfg.ProfilesDir)
	if err != nil {
		return nil, nil, nil, err
	}
	tags, err := config.LoadTags(cfg.TagsFile)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("tags_file: %w", err)
	}
	tf, err := transform.New(profiles, tags, log)
	if err != nil {
		return nil, nil, nil, err
	}
	return profiles, tags, tf, nil
}

type InputSummary struct {
	Source        string
	CloseInterval time.Duration
}

type ProfileSummary struct {
	Name       string
	Output     string
	Redirector string
	Inputs     []InputSummary
}

// Report is what `check` prints.
type Report struct {
	Env           string
	StorageDriver string
	MainSchedule  string
	TagGroups     []string
	Profiles      []ProfileSummary
}

// Check loads and validates the main config, every profile and the tags
// file without touching the network or the store.
func Check(cfgPath string) (Report, error) {
	cfg, err := config.NewManager(cfgPath).Load()
	if err != nil {
		return Report{}, err
	}
	if err := validateConfig(cfg); err != nil {
		return Report{}, err
	}
	rs, err := mapRelayConfig(cfg)
	if err != nil {
		return Report{}, err
	}
	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return Report{}, err
	}
	profiles, tags, _, err := loadDomain(cfg, logx.Nop())
	if err != nil {
		return Report{}, err
	}

	rep := Report{Env: cfg.Env, StorageDriver: sc.Driver, MainSchedule: rs.MainSchedule}
	for g := range tags {
		rep.TagGroups = append(rep.TagGroups, g)
	}
	sort.Strings(rep.TagGroups)
	for _, p := range profiles {
		ps := ProfileSummary{Name: p.Name, Output: p.OutputChannel, Redirector: p.Redirector}
		for _, src := range p.SourceKeys() {
			ps.Inputs = append(ps.Inputs, InputSummary{Source: src, CloseInterval: p.Inputs[src].CloseQueueInterval})
		}
		rep.Profiles = append(rep.Profiles, ps)
	}
	return rep, nil
}

// ListQueues opens the configured store and returns its queue rows.
func ListQueues(ctx context.Context, cfgPath string) ([]storage.QueueRow, error) {
	cfg, err := config.NewManager(cfgPath).Load()
	if err != nil {
		return nil, err
	}
	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	st, err := storage.Open(ctx, sc, logx.Nop())
	if err != nil {
		return nil, err
	}
	defer st.Close()

	rows, err := st.LoadQueues(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].ID < rows[j].ID })
	return rows, nil
}
