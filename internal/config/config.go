package config

import (
	"flag"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/pkg/errors"
)

// ServerConfig defines HTTP server configurations
type ServerConfig struct {
	Port            int           `koanf:"port"`
	Debug           bool          `koanf:"debug"`
	MaxUploadBytes  int64         `koanf:"maxuploadbytes"`
	ShutdownTimeout time.Duration `koanf:"shutdowntimeout"`
}

// UploadConfig defines where uploaded scans are kept while they are processed
type UploadConfig struct {
	Dir               string   `koanf:"dir"`
	AllowedExtensions []string `koanf:"allowedextensions"`
}

// ONNXConfig related to the ONNX Runtime shared library and device
type ONNXConfig struct {
	SharedLibraryPath string `koanf:"sharedlibrarypath"`
	Device            string `koanf:"device"`
}

// TaskConfig describes one served model: weights, route and label vocabulary.
// The label order must match the class index order used at training time.
type TaskConfig struct {
	Path   string   `koanf:"path"`
	Route  string   `koanf:"route"`
	Labels []string `koanf:"labels"`
}

// ModelsConfig holds the two served tasks
type ModelsConfig struct {
	Brain TaskConfig `koanf:"brain"`
	Bone  TaskConfig `koanf:"bone"`
}

// AppConfig defines
type AppConfig struct {
	Server ServerConfig `koanf:"server"`
	Upload UploadConfig `koanf:"upload"`
	ONNX   ONNXConfig   `koanf:"onnx"`
	Models ModelsConfig `koanf:"models"`
}

// Devices accepted by onnx.device
const (
	DeviceAuto = "auto"
	DeviceCPU  = "cpu"
	DeviceCUDA = "cuda"
)

const envPrefix = "CFG_"

var defaultConfigPath = "config/config.yaml"

var defaults = map[string]any{
	"server.port":              5000,
	"server.debug":             false,
	"server.maxuploadbytes":    32 << 20,
	"server.shutdowntimeout":   "10s",
	"upload.dir":               "uploads",
	"upload.allowedextensions": []string{"png", "jpg", "jpeg", "tif", "tiff", "dicom", "dcm"},
	"onnx.sharedlibrarypath":   "",
	"onnx.device":              DeviceAuto,
	"models.brain.path":        "models/multi_task_unet.onnx",
	"models.brain.route":       "/predict",
	"models.brain.labels":      []string{"glioma", "meningioma", "pituitary", "no_tumor"},
	"models.bone.path":         "models/multi_task_unet100.onnx",
	"models.bone.route":        "/predict_bone_route",
	"models.bone.labels":       []string{"tumor", "no_tumor"},
}

// Load reads defaults, then the yaml file at filePath, then CFG_ environment
// overrides. A missing file is only tolerated for the default path.
func Load(filePath string) (*AppConfig, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults, "."), nil); err != nil {
		return nil, errors.Wrap(err, "load defaults")
	}

	if _, err := os.Stat(filePath); err == nil {
		if err := k.Load(file.Provider(filePath), yaml.Parser()); err != nil {
			return nil, errors.Wrapf(err, "load config file %s", filePath)
		}
	} else if filePath != defaultConfigPath {
		return nil, errors.Wrapf(err, "config file %s", filePath)
	}

	if err := k.Load(env.ProviderWithValue(envPrefix, ".", func(s string, v string) (string, any) {
		key := strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "_", ".")
		if strings.Contains(v, ",") {
			return key, strings.Split(strings.TrimSpace(v), ",")
		}
		return key, v
	}), nil); err != nil {
		return nil, errors.Wrap(err, "load environment")
	}

	var cfg AppConfig
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, errors.Wrap(err, "unmarshal config")
	}

	if err := ValidateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ValidateConfig is for custom validation rules for the configuration
func ValidateConfig(cfg *AppConfig) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return errors.Errorf("invalid server.port %d", cfg.Server.Port)
	}
	if cfg.Server.MaxUploadBytes <= 0 {
		return errors.New("server.maxuploadbytes must be positive")
	}
	if strings.TrimSpace(cfg.Upload.Dir) == "" {
		return errors.New("upload.dir is empty")
	}

	switch cfg.ONNX.Device {
	case DeviceAuto, DeviceCPU, DeviceCUDA:
	default:
		return errors.Errorf("unknown onnx.device %q", cfg.ONNX.Device)
	}

	tasks := map[string]TaskConfig{"brain": cfg.Models.Brain, "bone": cfg.Models.Bone}
	routes := make(map[string]string, len(tasks))
	for name, t := range tasks {
		if t.Path == "" {
			return errors.Errorf("models.%s.path is empty", name)
		}
		if !strings.HasPrefix(t.Route, "/") {
			return errors.Errorf("models.%s.route %q must start with /", name, t.Route)
		}
		if other, ok := routes[t.Route]; ok {
			return errors.Errorf("models.%s.route %q already used by models.%s", name, t.Route, other)
		}
		routes[t.Route] = name
		if len(t.Labels) == 0 {
			return errors.Errorf("models.%s.labels is empty", name)
		}
	}
	return nil
}

// ParseConfigFlag allows clients to specify the relative path to the file from
// which the configuration will be loaded.
func ParseConfigFlag() string {
	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	configPath := fs.String("file", defaultConfigPath, "configuration file")
	_ = fs.Parse(os.Args[1:])

	return *configPath
}
