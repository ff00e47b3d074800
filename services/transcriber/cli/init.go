package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

const defaultVoxserveYAML = `# VoxServe — transcriber config
# Priority: CLI flag > this file > default.

http_port:    "8080"
metrics_addr: ":9095"
log_level:    "info"       # debug | info | warn | error

# Worker pool. Every transcription runs in a disposable child process; the
# native engine may leak, the process boundary contains it.
process_isolation:    true
pool_size:            12
max_tasks_per_worker: 100
call_timeout:         5m
kill_grace:           10s
queue_wait:           30s
queue_capacity:       64
idle_timeout:         5m
reap_interval:        1m
spawn_timeout:        30s
# rate_limit_rps:     4     # uncomment to throttle submissions
# rate_limit_burst:   8

# Engine executed inside worker processes.
engine:            "command"   # command | echo
transcriber_path:  "/usr/local/bin/transcribe"
# default_language: "en"

max_upload_mb: 256
# temp_dir: "/var/tmp/voxserve"

# otel_endpoint: "localhost:4318"  # uncomment to enable OpenTelemetry tracing
`

// newInitCmd returns a "init" subcommand that writes a default config file.
// serviceName is used for the default file name and directory.
// defaultYAML is the content written to the file.
func newInitCmd(serviceName, defaultYAML string) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		Long: fmt.Sprintf(`Write default configuration for %s.

If --config is given the file is written to that path.
Otherwise it is written to ~/.voxserve/%s.yaml.
Fails if the file already exists unless --force is passed.`, serviceName, serviceName),
		RunE: func(_ *cobra.Command, _ []string) error {
			dest := cfgFile
			if dest == "" {
				home, err := os.UserHomeDir()
				if err != nil {
					return fmt.Errorf("home dir: %w", err)
				}
				dest = filepath.Join(home, ".voxserve", serviceName+".yaml")
			}

			if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
				return fmt.Errorf("mkdir: %w", err)
			}

			if !force {
				if _, err := os.Stat(dest); err == nil {
					return fmt.Errorf("%s already exists (use --force to overwrite)", dest)
				} else if !errors.Is(err, os.ErrNotExist) {
					return fmt.Errorf("stat %s: %w", dest, err)
				}
			}

			if err := os.WriteFile(dest, []byte(defaultYAML), 0o644); err != nil {
				return fmt.Errorf("write config: %w", err)
			}
			fmt.Printf("config written to %s\n", dest)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing config file")
	return cmd
}
