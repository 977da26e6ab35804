package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"

	"github.com/burrowlabs/burrow/pkg/agent"
	"github.com/burrowlabs/burrow/pkg/config"
	"github.com/burrowlabs/burrow/pkg/detector"
	"github.com/burrowlabs/burrow/pkg/events"
	"github.com/burrowlabs/burrow/pkg/isolation"
	"github.com/burrowlabs/burrow/pkg/log"
	"github.com/burrowlabs/burrow/pkg/messages"
	"github.com/burrowlabs/burrow/pkg/transport"
	"github.com/burrowlabs/burrow/pkg/types"
	"github.com/burrowlabs/burrow/pkg/version"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "burrow",
	Short: "Burrow - node agent for two-level cluster scheduling",
	Long: `Burrow is the per-machine agent of a two-level cluster scheduler.
It registers with the elected master, hosts tenant-supplied executors,
multiplexes tasks onto them, and reliably reports task status upstream.`,
	Version: version.Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Burrow version %s\nCommit: %s\nBuilt: %s\n",
		version.Version, version.Commit, version.BuildTime,
	))

	rootCmd.AddCommand(agentCmd)
}

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Run the node agent",
	Long: `Run the node agent on this machine.

The agent finds the master either statically (--master) or through a
ZooKeeper election group (--zk), then serves executors until stopped.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		masterFlag, _ := cmd.Flags().GetString("master")
		zkFlag, _ := cmd.Flags().GetString("zk")
		listenAddr, _ := cmd.Flags().GetString("listen")
		httpAddr, _ := cmd.Flags().GetString("http")
		isolationFlag, _ := cmd.Flags().GetString("isolation")
		containerdSocket, _ := cmd.Flags().GetString("containerd-socket")
		local, _ := cmd.Flags().GetBool("local")
		logLevel, _ := cmd.Flags().GetString("log-level")
		logJSON, _ := cmd.Flags().GetBool("log-json")

		log.Init(log.Config{Level: log.Level(logLevel), JSONOutput: logJSON})
		logger := log.WithComponent("main")

		// Configuration: file first, flags override.
		cfg := config.Default()
		if configPath != "" {
			loaded, err := config.Load(configPath)
			if err != nil {
				return err
			}
			cfg = loaded
		}
		if flag := cmd.Flags().Lookup("resources"); flag.Changed {
			cfg.Resources = flag.Value.String()
		}
		if flag := cmd.Flags().Lookup("attributes"); flag.Changed {
			attrs, err := config.ParseAttributes(flag.Value.String())
			if err != nil {
				return err
			}
			cfg.Attributes = attrs
		}
		if flag := cmd.Flags().Lookup("work-dir"); flag.Changed {
			cfg.WorkDir = flag.Value.String()
		}
		if flag := cmd.Flags().Lookup("frameworks-home"); flag.Changed {
			cfg.FrameworksHome = flag.Value.String()
		}
		if flag := cmd.Flags().Lookup("hadoop-home"); flag.Changed {
			cfg.HadoopHome = flag.Value.String()
		}
		if flag := cmd.Flags().Lookup("switch-user"); flag.Changed {
			cfg.SwitchUser, _ = cmd.Flags().GetBool("switch-user")
		}

		if masterFlag == "" && zkFlag == "" {
			return fmt.Errorf("one of --master or --zk is required")
		}

		broker := events.NewBroker()
		broker.Start()

		// The transport, the agent actor, and the isolation dispatcher
		// reference each other; build bottom-up with a late-bound
		// handler shim.
		shim := &handlerShim{}
		messenger, err := transport.New("slave", listenAddr, shim)
		if err != nil {
			return err
		}

		sink := &sinkShim{}
		var isolator isolation.Isolator
		switch isolationFlag {
		case "process":
			isolator = isolation.NewProcessIsolator(sink)
		case "containerd":
			isolator = isolation.NewContainerdIsolator(sink, containerdSocket)
		default:
			return fmt.Errorf("unknown isolation %q (want process or containerd)", isolationFlag)
		}
		dispatcher := isolation.NewDispatcher(isolator)

		node, err := agent.New(agent.Options{
			Config:    cfg,
			Local:     local,
			Messenger: messenger,
			Isolation: dispatcher,
			Broker:    broker,
		})
		if err != nil {
			return err
		}
		shim.handler = node
		sink.sink = node

		dispatcher.Start()
		messenger.Start()
		node.Start()
		logger.Info().Str("pid", node.PID().String()).Msg("Agent listening")

		// Introspection surface.
		httpServer := &http.Server{Addr: httpAddr, Handler: node.Router()}
		go func() {
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error().Err(err).Msg("HTTP server failed")
			}
		}()

		// Master detection.
		var det detector.Detector
		if zkFlag != "" {
			det = detector.NewZooKeeper(strings.Split(zkFlag, ","), "", 10*time.Second)
		} else {
			master, err := transport.ParsePID(masterFlag)
			if err != nil {
				return fmt.Errorf("malformed --master: %w", err)
			}
			det = detector.NewStatic(master)
		}
		if err := det.Detect(node); err != nil {
			return err
		}

		// Structured event logging.
		sub := broker.Subscribe()
		go func() {
			for event := range sub {
				log.WithComponent("events").Debug().
					Str("type", string(event.Type)).
					Str("framework_id", string(event.FrameworkID)).
					Str("executor_id", string(event.ExecutorID)).
					Str("task_id", string(event.TaskID)).
					Str("message", event.Message).
					Msg("Event")
			}
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh
		logger.Info().Msg("Shutting down")

		var errs *multierror.Error
		det.Close()
		node.Stop()
		errs = multierror.Append(errs, httpServer.Close())
		errs = multierror.Append(errs, messenger.Close())
		broker.Stop()

		return errs.ErrorOrNil()
	},
}

func init() {
	agentCmd.Flags().String("config", "", "Path to a YAML configuration file")
	agentCmd.Flags().String("master", "", "Static master endpoint (id@host:port)")
	agentCmd.Flags().String("zk", "", "Comma-separated ZooKeeper ensemble for master detection")
	agentCmd.Flags().String("listen", "0.0.0.0:5051", "Address for agent messaging")
	agentCmd.Flags().String("http", "0.0.0.0:5052", "Address for the introspection HTTP surface")
	agentCmd.Flags().String("resources", "", "Total consumable resources (default cpus:1;mem:1024)")
	agentCmd.Flags().String("attributes", "", "Machine attributes (key:value;key:value)")
	agentCmd.Flags().String("work-dir", "", "Where to place executor work directories")
	agentCmd.Flags().String("frameworks-home", "", "Directory prepended to relative executor paths")
	agentCmd.Flags().String("hadoop-home", "", "Hadoop installation for fetching executors from HDFS")
	agentCmd.Flags().Bool("switch-user", true, "Run executors as the framework user")
	agentCmd.Flags().String("isolation", "process", "Isolation backend: process or containerd")
	agentCmd.Flags().String("containerd-socket", "", "containerd socket path (containerd isolation)")
	agentCmd.Flags().Bool("local", false, "Run in local mode (single-machine testing)")
	agentCmd.Flags().String("log-level", "info", "Log level: debug, info, warn, error")
	agentCmd.Flags().Bool("log-json", false, "Emit JSON logs")
}

// handlerShim lets the transport be built before the agent that
// handles its traffic.
type handlerShim struct {
	handler transport.Handler
}

func (s *handlerShim) HandleMessage(from transport.PID, msg messages.Message) {
	s.handler.HandleMessage(from, msg)
}

func (s *handlerShim) HandleExited(peer transport.PID) {
	s.handler.HandleExited(peer)
}

// sinkShim lets the isolator be built before the agent that receives
// its callbacks.
type sinkShim struct {
	sink isolation.CallbackSink
}

func (s *sinkShim) ExecutorStarted(frameworkID types.FrameworkID, executorID types.ExecutorID, pid int) {
	s.sink.ExecutorStarted(frameworkID, executorID, pid)
}

func (s *sinkShim) ExecutorExited(frameworkID types.FrameworkID, executorID types.ExecutorID, status int) {
	s.sink.ExecutorExited(frameworkID, executorID, status)
}
