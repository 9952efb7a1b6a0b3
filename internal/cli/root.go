// Package cli implements the nur terminal client.
package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/zhouzirui/nur-al-ilm/backend/internal/app"
	"github.com/zhouzirui/nur-al-ilm/backend/internal/config"
	"github.com/zhouzirui/nur-al-ilm/backend/internal/model/persona"
	chatservice "github.com/zhouzirui/nur-al-ilm/backend/internal/service/chat"
	"github.com/zhouzirui/nur-al-ilm/backend/internal/storage"
)

// DefaultDevice 是终端客户端使用的设备标识。
const DefaultDevice = "local"

var (
	dataDir  string
	driver   string
	deviceID string
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "nur",
	Short: "Nur Al-Ilm multilingual Islamic assistant",
	Long:  "Terminal client for the Nur Al-Ilm assistant. History and suspensions persist under the data directory.",
}

func init() {
	RootCmd.PersistentFlags().StringVar(&dataDir, "dir", "", "Data directory (default: $NUR_HOME or ~/.nur-al-ilm)")
	RootCmd.PersistentFlags().StringVar(&driver, "driver", string(storage.DriverFile), "Store driver: file or sqlite")
	RootCmd.PersistentFlags().StringVar(&deviceID, "device", DefaultDevice, "Device id used as storage namespace")
}

func getDataDir() string {
	if dataDir != "" {
		return dataDir
	}
	if env := os.Getenv("NUR_HOME"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".nur-al-ilm")
}

// openSession loads configuration and returns the session of the selected device.
func openSession(ctx context.Context) (*chatservice.Session, func(), error) {
	switch storage.Driver(driver) {
	case storage.DriverFile, storage.DriverSQLite:
	default:
		return nil, nil, fmt.Errorf("%w: %q (use file or sqlite)", storage.ErrInvalidDriver, driver)
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	cfg.Session.StoreDriver = driver
	cfg.Session.StorePath = getDataDir()

	store, err := app.OpenStore(cfg.Session)
	if err != nil {
		return nil, nil, err
	}

	deps, err := app.BuildDependencies(ctx, cfg, persona.Seed()[0])
	if err != nil {
		store.Close()
		return nil, nil, err
	}

	sess, err := chatservice.NewService(store, deps).Session(ctx, deviceID)
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	return sess, func() { store.Close() }, nil
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(1)
}
