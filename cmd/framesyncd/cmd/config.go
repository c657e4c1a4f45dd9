package cmd

import (
	"fmt"
	"reflect"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"framesync/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
	Long:  `Commands for managing framesyncd configuration.`,
}

var configDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Dump the default configuration",
	Long: `Dump the default configuration values in YAML format.

This shows all available configuration options with their default values.
You can redirect this output to a file to create a configuration template:

  framesyncd config dump > config.yaml

Configuration can be set via:
  - Config file (config.yaml, ./configs, /etc/framesyncd)
  - Environment variables (FRAMESYNC_RENDER_FPS, FRAMESYNC_OUTPUT_CODEC, etc.)

Environment variables use the FRAMESYNC_ prefix and underscores for nesting.
Example: output.codec -> FRAMESYNC_OUTPUT_CODEC`,
	RunE: runConfigDump,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configDumpCmd)
}

// toMap converts a struct to a map, rendering ByteSize/Duration fields
// with their human-readable String() form rather than the raw integer.
func toMap(v any) map[string]any {
	result := make(map[string]any)
	val := reflect.ValueOf(v)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}
	typ := val.Type()

	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)

		key := fieldType.Tag.Get("mapstructure")
		if key == "" {
			key = fieldType.Name
		}

		switch fv := field.Interface().(type) {
		case config.ByteSize:
			result[key] = fv.String()
		case config.Duration:
			result[key] = fv.String()
		default:
			if field.Kind() == reflect.Struct {
				result[key] = toMap(field.Interface())
			} else if field.Kind() == reflect.Slice && field.Type().Elem().Kind() == reflect.String {
				result[key] = field.Interface()
			} else {
				result[key] = field.Interface()
			}
		}
	}
	return result
}

func runConfigDump(cmd *cobra.Command, args []string) error {
	v := viper.New()
	config.SetDefaults(v)
	cfg, err := config.FromViper(v)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	cfgMap := toMap(cfg)

	yamlData, err := yaml.Marshal(cfgMap)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	fmt.Println("# framesyncd Configuration File")
	fmt.Println("# ==============================")
	fmt.Println("#")
	fmt.Println("# All values shown below are defaults.")
	fmt.Println("# Duration format: 30s, 5m, 1h")
	fmt.Println("# Size format: 20MB, 64MB")
	fmt.Println("#")
	fmt.Println("# Environment variable overrides use the FRAMESYNC_ prefix, e.g.")
	fmt.Println("#   FRAMESYNC_RENDER_FPS, FRAMESYNC_OUTPUT_CODEC, FRAMESYNC_OUTPUT_CONTAINER")
	fmt.Println("#")
	fmt.Println("")
	fmt.Print(string(yamlData))

	return nil
}
