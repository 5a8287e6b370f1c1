package main

import (
	"fmt"
	"net"
	"os"

	"github.com/fansqz/bmx-debugger/config"
	"github.com/fansqz/bmx-debugger/debugger"
	"github.com/fansqz/bmx-debugger/debugger/bmx_debugger"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// 定义版本号
const Version = "1.0.0"

var (
	configPath string
	logPath    string
	port       string
	cfg        *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "bmxdap",
	Short: "Debug adapter for BlitzMax programs",
	Long: `bmxdap speaks the Debug Adapter Protocol to an editor and drives a
BlitzMax debug build through its stdin/stdout debugger.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if logPath != "" {
			cfg.LogPath = logPath
		}
		SetupLogger(cfg.LogPath, cfg.LogLevel)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		CloseLogger()
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Listen for debug adapter clients on a TCP port",
	Run: func(cmd *cobra.Command, args []string) {
		if port != "" {
			cfg.Port = port
		}
		// 监听端口
		listener, err := net.Listen("tcp", ":"+cfg.Port)
		if err != nil {
			fmt.Fprintf(os.Stderr, "listen at %s fail: %v\n", cfg.Port, err)
			os.Exit(1)
		}
		defer listener.Close()
		fmt.Printf("started listening at: %s\n", listener.Addr().String())
		logrus.Infof("[serve] listening at %s", listener.Addr().String())

		for {
			conn, err := listener.Accept()
			if err != nil {
				logrus.Errorf("[serve] connection failed: %v", err)
				continue
			}
			// 每个连接一个调试会话，各自持有独立的调试器
			go StartSession(conn, cfg, newDebugger)
		}
	},
}

var stdioCmd = &cobra.Command{
	Use:   "stdio",
	Short: "Serve a single debug session over stdin/stdout",
	Run: func(cmd *cobra.Command, args []string) {
		if cfg.LogPath == "" {
			// 标准输出被协议占用
			logrus.SetOutput(os.Stderr)
		}
		StartSession(&StdioReadWriteCloser{}, cfg, newDebugger)
	},
}

var versionCmd = &cobra.Command{
	Use:              "version",
	Short:            "Show the version number",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {},
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Version: %s\n", Version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (yaml or toml), defaults to $"+config.ConfEnv)
	rootCmd.PersistentFlags().StringVar(&logPath, "log", "", "log file path")
	serveCmd.Flags().StringVarP(&port, "port", "p", "", "TCP port to listen on")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(stdioCmd)
	rootCmd.AddCommand(versionCmd)
}

func newDebugger(cfg *config.Config) debugger.Debugger {
	return bmx_debugger.NewBmxDebugger(&cfg.Debugger)
}

// StdioReadWriteCloser 把标准输入输出包装成一个连接
type StdioReadWriteCloser struct{}

func (s *StdioReadWriteCloser) Read(p []byte) (int, error) {
	return os.Stdin.Read(p)
}

func (s *StdioReadWriteCloser) Write(p []byte) (int, error) {
	return os.Stdout.Write(p)
}

func (s *StdioReadWriteCloser) Close() error {
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
