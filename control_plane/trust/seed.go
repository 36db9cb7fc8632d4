package trust

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/itskum47/fleetops/control_plane/protocol"
)

// SeedFile is the on-disk description of known sources.
//
//	sources:
//	  - source_system: coastguard-hq
//	    whitelisted: true
//	    trust_level: high
//	    allowed_protocols: [stanag, json-rpc]
//	    metadata:
//	      region: north
//	  - source_system: banned-system
//	    blacklisted: true
type SeedFile struct {
	Sources []SourceConfig `yaml:"sources"`
}

// LoadSeedFile reads and validates a seed file.
func LoadSeedFile(path string) (*SeedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseSeed(data)
}

// ParseSeed decodes YAML seed data, rejecting unknown fields.
func ParseSeed(data []byte) (*SeedFile, error) {
	var seed SeedFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&seed); err != nil {
		return nil, fmt.Errorf("invalid trust seed: %w", err)
	}
	if err := seed.Validate(); err != nil {
		return nil, err
	}
	return &seed, nil
}

// Validate checks that every entry is addressable and internally consistent.
func (s *SeedFile) Validate() error {
	seen := make(map[string]bool, len(s.Sources))
	for i, src := range s.Sources {
		if src.SourceSystem == "" {
			return fmt.Errorf("sources[%d].source_system is required", i)
		}
		if seen[src.SourceSystem] {
			return fmt.Errorf("source %s listed twice", src.SourceSystem)
		}
		seen[src.SourceSystem] = true
		if src.Whitelisted && src.Blacklisted {
			return fmt.Errorf("source %s cannot be both whitelisted and blacklisted", src.SourceSystem)
		}
		for _, p := range src.AllowedProtocols {
			if !protocol.IsSupported(p) {
				return fmt.Errorf("source %s allows unknown protocol %s", src.SourceSystem, p)
			}
		}
	}
	return nil
}

// Apply makes the registry agree with the seed for every listed source and
// stores its profile. Sources absent from the seed are left untouched.
func (s *SeedFile) Apply(ctx context.Context, r Registry) error {
	for _, src := range s.Sources {
		var err error
		if src.Whitelisted {
			err = r.AddToWhitelist(ctx, src.SourceSystem)
		} else {
			err = r.RemoveFromWhitelist(ctx, src.SourceSystem)
		}
		if err != nil {
			return fmt.Errorf("apply %s: %w", src.SourceSystem, err)
		}

		if src.Blacklisted {
			err = r.AddToBlacklist(ctx, src.SourceSystem)
		} else {
			err = r.RemoveFromBlacklist(ctx, src.SourceSystem)
		}
		if err != nil {
			return fmt.Errorf("apply %s: %w", src.SourceSystem, err)
		}

		if err := r.SetProfile(ctx, src); err != nil {
			return fmt.Errorf("apply %s: %w", src.SourceSystem, err)
		}
	}
	return nil
}

// WatchSeedFile re-applies the seed whenever the file is written or replaced.
// It blocks until ctx is done. Invalid edits are logged and ignored.
func WatchSeedFile(ctx context.Context, path string, r Registry) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// Watch the directory: editors often replace the file via rename.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return err
	}
	target := filepath.Clean(path)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target || !ev.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}
			seed, err := LoadSeedFile(path)
			if err != nil {
				log.Printf("[TRUST] Ignoring seed reload: %v", err)
				continue
			}
			if err := seed.Apply(ctx, r); err != nil {
				log.Printf("[TRUST] Seed reload failed: %v", err)
				continue
			}
			log.Printf("[TRUST] Reloaded %d sources from %s", len(seed.Sources), path)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Printf("[TRUST] Seed watcher error: %v", err)
		}
	}
}
