package config

import (
	"os"

	"github.com/joho/godotenv"
)

// LoadDotEnv carrega os arquivos .env existentes sem sobrescrever variáveis
// já definidas. Arquivo ausente não é erro.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}
