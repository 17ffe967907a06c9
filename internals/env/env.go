package env

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"strconv"
	"strings"

	z "github.com/Oudwins/zog"
	"github.com/Oudwins/zog/zenv"
	"github.com/joho/godotenv"
)

type EnvStruct struct {
	HOME      string `zog:"HOME"`
	PORT      int    `zog:"COMFYRUNNER_PORT"`
	DATA_DIR  string `zog:"COMFYRUNNER_DATA_DIR"`
	COMFY_URL string `zog:"COMFY_URL"`

	LISTEN_ADDR string
	LISTEN_PROT string
	BASE_URL    string
}

var env *EnvStruct

var EnvSchema = z.Struct(z.Shape{
	"HOME":      z.String().Optional(),
	"PORT":      z.Int().Default(57880),
	"DATA_DIR":  z.String().Optional().Trim(),
	"COMFY_URL": z.String().Optional().Trim(),
})

func Get() *EnvStruct {
	if env == nil {
		parsed, err := Load()
		if err != nil {
			log.Fatal("[Comfyrunner] Failed to parse environment variables ", err)
		}
		env = parsed
	}
	return env
}

// Load reads an optional dotenv file, then parses the process environment.
// Variables already present in the environment win over the dotenv file.
func Load() (*EnvStruct, error) {
	if err := loadDotenv(); err != nil {
		return nil, err
	}
	parsed := &EnvStruct{}
	if errs := EnvSchema.Parse(zenv.NewDataProvider(), parsed); errs != nil {
		return nil, fmt.Errorf("invalid environment: %v", errs)
	}

	parsed.LISTEN_PROT = "http://"
	parsed.LISTEN_ADDR = "localhost:" + strconv.Itoa(parsed.PORT)
	parsed.BASE_URL = parsed.LISTEN_PROT + parsed.LISTEN_ADDR
	return parsed, nil
}

func loadDotenv() error {
	path := strings.TrimSpace(os.Getenv("COMFYRUNNER_DOTENV"))
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}
