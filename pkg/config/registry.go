package config

import (
	"context"
	"fmt"
	"strings"

	"github.com/marmos91/dittomount/internal/logger"
	"github.com/marmos91/dittomount/pkg/adapter"
	"github.com/marmos91/dittomount/pkg/registry"
	"github.com/marmos91/dittomount/pkg/vfs"
)

// NewRouter creates the file call adapter sized by cfg. mr may be nil.
func NewRouter(cfg *Config, mr *MetricsResult) *adapter.Router {
	opts := []adapter.RouterOption{adapter.WithMaxHandles(cfg.Registry.MaxHandles)}
	if mr != nil && mr.Device != nil {
		opts = append(opts, adapter.WithMetrics(mr.Device))
	}
	return adapter.NewRouter(opts...)
}

// InitializeRegistry creates a Registry and mounts every entry of
// cfg.Mounts, in order.
//
// table (usually the Router returned by NewRouter) is notified of each
// mount so its "<name>:/" paths resolve. Mounts are lazy except for zip
// archives, which are opened up front so a missing or corrupt archive
// fails startup instead of the first access.
//
// Returns an error if any mount fails; mounts created before the failure
// are torn down. mr may be nil.
//
// Example:
//
//	cfg, _ := config.Load("config.yaml")
//	mr := config.InitializeMetrics(cfg)
//	router := config.NewRouter(cfg, mr)
//	reg, err := config.InitializeRegistry(ctx, cfg, router, mr)
//	if err != nil {
//	    log.Fatalf("Failed to initialize registry: %v", err)
//	}
//	defer reg.UnmountAll()
func InitializeRegistry(ctx context.Context, cfg *Config, table registry.DeviceTable, mr *MetricsResult) (*registry.Registry, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration is nil")
	}
	logger.Debug("Initializing registry from configuration")

	var opts []registry.Option
	if table != nil {
		opts = append(opts, registry.WithDeviceTable(table))
	}
	reg := registry.New(cfg.Registry.Capacity, opts...)

	for i, m := range cfg.Mounts {
		path, err := reg.MountOrAttach(ctx, registry.Target{
			Key:    mountKey(i, m),
			Kind:   m.Type,
			Config: m.MountConfig,
			New: func(vfs.MountConfig) (vfs.Backend, error) {
				return CreateBackend(m, cfg.Cache, mr)
			},
			Eager: m.Type == "zip",
		})
		if err != nil {
			reg.UnmountAll()
			return nil, fmt.Errorf("failed to mount mounts[%d] (%s): %w", i, m.Type, err)
		}
		logger.Debug("Configured mount %s (type=%s read_only=%v)", path, m.Type, m.ReadOnly)
	}

	logger.Info("Registry initialized with %d mount(s)", reg.Count())
	return reg, nil
}

// mountKey identifies what a configured mount exposes, so two entries
// naming the same directory, archive or bucket are caught by validation.
func mountKey(i int, m MountConfig) string {
	if m.URL != "" {
		return m.Type + ":" + m.URL
	}
	if p, ok := m.Options["db_path"].(string); ok && p != "" {
		return m.Type + ":" + p
	}
	switch parts := m.Options["parts"].(type) {
	case []string:
		return m.Type + ":" + strings.Join(parts, ",")
	case []any:
		s := make([]string, len(parts))
		for j, p := range parts {
			s[j] = fmt.Sprint(p)
		}
		return m.Type + ":" + strings.Join(s, ",")
	case string:
		return m.Type + ":" + parts
	}
	if m.Name != "" {
		return m.Type + ":" + m.Name
	}
	return fmt.Sprintf("%s:#%d", m.Type, i)
}
