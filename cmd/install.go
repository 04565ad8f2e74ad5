package cmd

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"text/template"

	"github.com/jandubois/mon/internal/config"
	"github.com/spf13/cobra"
)

const (
	launchAgentLabel = "io.github.jandubois.mon.probe"
	systemdUnitName  = "mon-probe.service"
)

var launchAgentPlist = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key>
    <string>{{.Label}}</string>
    <key>ProgramArguments</key>
    <array>
        <string>{{.Executable}}</string>
        <string>probe</string>
        <string>--config</string>
        <string>{{.ConfigPath}}</string>
    </array>
    <key>RunAtLoad</key>
    <true/>
    <key>KeepAlive</key>
    <true/>
    <key>StandardOutPath</key>
    <string>{{.LogDir}}/probe.log</string>
    <key>StandardErrorPath</key>
    <string>{{.LogDir}}/probe.log</string>
</dict>
</plist>
`

var systemdUnit = `[Unit]
Description=mon probe agent
After=network-online.target
Wants=network-online.target

[Service]
ExecStart={{.Executable}} probe --config {{.ConfigPath}}
ExecReload=/bin/kill -HUP $MAINPID
Restart=on-failure

[Install]
WantedBy=multi-user.target
`

type serviceData struct {
	Label      string
	Executable string
	ConfigPath string
	LogDir     string
}

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Install the probe agent as a system service",
	Long: `Install the probe agent as a launchd LaunchAgent (macOS) or a systemd
unit (Linux). The service reads its settings from the config file; reloading
it sends SIGHUP, which rediscovers plugins.`,
	RunE: runInstall,
}

var uninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Stop and remove the probe agent service",
	RunE:  runUninstall,
}

func init() {
	rootCmd.AddCommand(installCmd)
	rootCmd.AddCommand(uninstallCmd)
	installCmd.Flags().Bool("print", false, "Print the service definition instead of installing it")
}

func runInstall(cmd *cobra.Command, args []string) error {
	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}
	executable, err = filepath.EvalSymlinks(executable)
	if err != nil {
		return fmt.Errorf("failed to resolve executable path: %w", err)
	}

	data := serviceData{
		Label:      launchAgentLabel,
		Executable: executable,
		ConfigPath: getConfigPath(cmd, config.DefaultProbeConfigPath),
	}

	text, target, err := serviceDefinition(&data)
	if err != nil {
		return err
	}

	tmpl, err := template.New("service").Parse(text)
	if err != nil {
		return fmt.Errorf("failed to parse service template: %w", err)
	}

	if printOnly, _ := cmd.Flags().GetBool("print"); printOnly {
		return tmpl.Execute(os.Stdout, data)
	}

	if runtime.GOOS == "darwin" {
		if err := os.MkdirAll(data.LogDir, 0755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
		if _, err := os.Stat(target); err == nil {
			exec.Command("launchctl", "unload", target).Run()
		}
	}
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return fmt.Errorf("failed to create service directory: %w", err)
	}

	f, err := os.Create(target)
	if err != nil {
		return fmt.Errorf("failed to create service file: %w", err)
	}
	defer f.Close()

	if err := tmpl.Execute(f, data); err != nil {
		return fmt.Errorf("failed to write service file: %w", err)
	}

	if runtime.GOOS == "darwin" {
		if err := exec.Command("launchctl", "load", target).Run(); err != nil {
			return fmt.Errorf("failed to load service: %w", err)
		}
	} else {
		if err := exec.Command("systemctl", "daemon-reload").Run(); err != nil {
			return fmt.Errorf("failed to reload systemd: %w", err)
		}
		if err := exec.Command("systemctl", "enable", "--now", systemdUnitName).Run(); err != nil {
			return fmt.Errorf("failed to start service: %w", err)
		}
	}

	fmt.Printf("Installed and started %s\n", target)
	return nil
}

func runUninstall(cmd *cobra.Command, args []string) error {
	var data serviceData
	_, target, err := serviceDefinition(&data)
	if err != nil {
		return err
	}

	if _, err := os.Stat(target); os.IsNotExist(err) {
		return fmt.Errorf("service is not installed")
	}

	var stop *exec.Cmd
	if runtime.GOOS == "darwin" {
		stop = exec.Command("launchctl", "unload", target)
	} else {
		stop = exec.Command("systemctl", "disable", "--now", systemdUnitName)
	}
	if err := stop.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to stop service: %v\n", err)
	}

	if err := os.Remove(target); err != nil {
		return fmt.Errorf("failed to remove service file: %w", err)
	}

	fmt.Printf("Uninstalled %s\n", target)
	return nil
}

// serviceDefinition returns the template and install path for this OS and
// fills in the OS specific fields of data.
func serviceDefinition(data *serviceData) (string, string, error) {
	switch runtime.GOOS {
	case "darwin":
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", "", fmt.Errorf("failed to get home directory: %w", err)
		}
		data.LogDir = filepath.Join(homeDir, "Library", "Logs", "mon")
		return launchAgentPlist, filepath.Join(homeDir, "Library", "LaunchAgents", launchAgentLabel+".plist"), nil
	case "linux":
		return systemdUnit, filepath.Join("/etc/systemd/system", systemdUnitName), nil
	default:
		return "", "", fmt.Errorf("install is not supported on %s", runtime.GOOS)
	}
}
