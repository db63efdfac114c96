package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	shellyedge "github.com/pat-rohn/go-shellyedge"
	"github.com/pat-rohn/go-shellyedge/pkg/sunpos"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var loglevel string
var logfile string
var configPath string

func initGlobalFlags() {
	if err := shellyedge.SetLogLevel(loglevel, logfile); err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
}

func main() {
	var rootCmd = &cobra.Command{
		Use:           "ShellyEdge",
		Short:         "ShellyEdge polls Shelly plugs and stores their readings as timeseries",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	var startCmd = &cobra.Command{
		Use:   "start",
		Args:  cobra.NoArgs,
		Short: "Sample all configured devices until stopped",
		RunE: func(cmd *cobra.Command, args []string) error {
			return start()
		},
	}

	var count int
	var port int
	var simulateCmd = &cobra.Command{
		Use:   "simulate",
		Args:  cobra.NoArgs,
		Short: "Serve simulated Shelly devices on consecutive ports",
		RunE: func(cmd *cobra.Command, args []string) error {
			return simulate(count, port)
		},
	}
	simulateCmd.Flags().IntVarP(&count, "count", "n", 1, "number of devices")
	simulateCmd.Flags().IntVarP(&port, "port", "p", 8081, "port of the first device")

	var lat, long float32
	var sunCmd = &cobra.Command{
		Use:   "sun",
		Args:  cobra.NoArgs,
		Short: "Print the current sun position",
		RunE: func(cmd *cobra.Command, args []string) error {
			now := time.Now().UTC()
			az, el := sunpos.Position(now, lat, long)
			fmt.Printf("%s LAT: %v LONG: %v azimuth: %.2f elevation: %.2f\n",
				now.Format(time.RFC3339), lat, long, az, el)
			return nil
		},
	}
	sunCmd.Flags().Float32Var(&lat, "lat", 0, "latitude in degrees")
	sunCmd.Flags().Float32Var(&long, "long", 0, "longitude in degrees")

	rootCmd.PersistentFlags().StringVarP(&loglevel, "verbose", "v", "i", "verbosity (t, d, i, w, e)")
	rootCmd.PersistentFlags().StringVar(&logfile, "logfile", "", "also log to this rotated file")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "folder containing shellyedge.json")

	rootCmd.AddCommand(startCmd, simulateCmd, sunCmd)
	cobra.OnInitialize(initGlobalFlags)
	if err := rootCmd.Execute(); err != nil {
		log.Errorln(err)
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	var sinkErr *shellyedge.SinkError
	if errors.As(err, &sinkErr) {
		return 1
	}
	var confErr *shellyedge.ConfigError
	if errors.As(err, &confErr) {
		return 2
	}
	return 1
}

func start() error {
	paths := shellyedge.DefaultConfigPaths()
	if configPath != "" {
		paths = []string{configPath}
	}
	conf, err := shellyedge.LoadConfig(viper.New(), paths...)
	if err != nil {
		return err
	}
	if conf.LogFile != "" && logfile == "" {
		shellyedge.SetLogLevel(loglevel, conf.LogFile)
	}

	edge, err := shellyedge.New(conf)
	if err != nil {
		return err
	}
	defer edge.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	err = edge.Run(ctx)
	if errors.Is(err, context.Canceled) {
		log.Infoln("stopped")
		return nil
	}
	return err
}

func simulate(count, port int) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	var wg sync.WaitGroup
	errs := make(chan error, count)
	for i := 0; i < count; i++ {
		dev := shellyedge.NewDummyDevice("127.0.0.1", uint64(1000+i))
		dev.Jitter = true
		wg.Add(1)
		go func(addr string) {
			defer wg.Done()
			if err := dev.Simulate(ctx, addr); err != nil {
				errs <- err
				stop()
			}
		}(fmt.Sprintf(":%d", port+i))
		fmt.Printf("device %d on http://127.0.0.1:%d\n", dev.Serial, port+i)
	}
	wg.Wait()
	close(errs)
	return <-errs
}
