// SPDX-FileCopyrightText: 2022 Matthias Axel Kröll
// SPDX-FileCopyrightText: 2022 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/dtn7/dtn7-bpsec/pkg/bpsec"
	"github.com/dtn7/dtn7-bpsec/pkg/bpv7"
)

// printUsage of bpsecctl and exit with an error code afterwards.
func printUsage() {
	_, _ = fmt.Fprintf(os.Stderr, "Usage of %s validate|show-config|serve|process:\n\n", os.Args[0])

	_, _ = fmt.Fprintf(os.Stderr, "%s validate bpsecctl.toml\n", os.Args[0])
	_, _ = fmt.Fprintf(os.Stderr, "  Loads the configured BpSec policy file and reports every validation error.\n\n")

	_, _ = fmt.Fprintf(os.Stderr, "%s show-config bpsecctl.toml\n", os.Args[0])
	_, _ = fmt.Fprintf(os.Stderr, "  Loads and re-serializes the configured BpSec policy file as canonical JSON.\n\n")

	_, _ = fmt.Fprintf(os.Stderr, "%s serve bpsecctl.toml\n", os.Args[0])
	_, _ = fmt.Fprintf(os.Stderr, "  Loads the configured BpSec policy file and, if configured, watches it for\n")
	_, _ = fmt.Fprintf(os.Stderr, "  changes until interrupted.\n\n")

	_, _ = fmt.Fprintf(os.Stderr, "%s process bpsecctl.toml outgoing|incoming input output\n", os.Args[0])
	_, _ = fmt.Fprintf(os.Stderr, "  Loads the configured BpSec policy file, reads a CBOR bundle from input\n")
	_, _ = fmt.Fprintf(os.Stderr, "  (\"-\" for stdin), runs it through the Outgoing or Incoming Processor, and\n")
	_, _ = fmt.Fprintf(os.Stderr, "  writes the resulting bundle to output (\"-\" for stdout). \"outgoing\" attaches\n")
	_, _ = fmt.Fprintf(os.Stderr, "  security blocks as bpsec.local-security-source; \"incoming\" verifies or\n")
	_, _ = fmt.Fprintf(os.Stderr, "  decrypts security blocks already present and, if bpsec.retention-dir is set,\n")
	_, _ = fmt.Fprintf(os.Stderr, "  retains the bundle when a fired event's action requests it.\n\n")

	os.Exit(1)
}

// parseLocalEID parses the "ipn:<node>.<service>" form used by
// bpsec.local-security-source into a bpsec.EID.
func parseLocalEID(s string) (bpsec.EID, error) {
	rest := strings.TrimPrefix(s, "ipn:")
	node, service, ok := strings.Cut(rest, ".")
	if !ok {
		return bpsec.EID{}, fmt.Errorf("local-security-source %q is not of the form ipn:<node>.<service>", s)
	}

	nodeNo, err := strconv.ParseUint(node, 10, 64)
	if err != nil {
		return bpsec.EID{}, fmt.Errorf("local-security-source %q: %w", s, err)
	}
	serviceNo, err := strconv.ParseUint(service, 10, 64)
	if err != nil {
		return bpsec.EID{}, fmt.Errorf("local-security-source %q: %w", s, err)
	}

	return bpsec.EID{Node: nodeNo, Service: serviceNo}, nil
}

func printFatal(err error, msg string) {
	log.WithError(err).Fatal(msg)
}

func loadBpSecConfigFile(path string) (*bpsec.BpSecConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg bpsec.BpSecConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func validateCmd(args []string) {
	if len(args) != 1 {
		printUsage()
	}

	conf, err := parseConfig(args[0])
	if err != nil {
		printFatal(err, "Reading bpsecctl configuration errored")
	}

	cfg, err := loadBpSecConfigFile(conf.BpSec.ConfigPath)
	if err != nil {
		printFatal(err, "Reading BpSec policy config errored")
	}

	if _, err := bpsec.LoadFromConfig(cfg); err != nil {
		log.WithError(err).Error("BpSec policy config failed validation")
		os.Exit(1)
	}

	log.Info("BpSec policy config is valid")
}

func showConfigCmd(args []string) {
	if len(args) != 1 {
		printUsage()
	}

	conf, err := parseConfig(args[0])
	if err != nil {
		printFatal(err, "Reading bpsecctl configuration errored")
	}

	cfg, err := loadBpSecConfigFile(conf.BpSec.ConfigPath)
	if err != nil {
		printFatal(err, "Reading BpSec policy config errored")
	}

	out, err := cfg.ToJSON()
	if err != nil {
		printFatal(err, "Re-serializing BpSec policy config errored")
	}

	_, _ = os.Stdout.Write(out)
	_, _ = os.Stdout.Write([]byte("\n"))
}

func serveCmd(args []string) {
	if len(args) != 1 {
		printUsage()
	}

	conf, err := parseConfig(args[0])
	if err != nil {
		printFatal(err, "Reading bpsecctl configuration errored")
	}

	cfg, err := loadBpSecConfigFile(conf.BpSec.ConfigPath)
	if err != nil {
		printFatal(err, "Reading BpSec policy config errored")
	}

	loaded, err := bpsec.LoadFromConfig(cfg)
	if err != nil {
		printFatal(err, "Loading BpSec policy config errored")
	}

	registry := bpsec.NewRegistry(loaded, conf.BpSec.DefaultEventSet)
	log.WithField("policies", loaded.Store.Len()).Info("Loaded BpSec policy config")

	if conf.BpSec.RetentionDir != "" {
		retention, err := bpsec.NewRetentionStore(conf.BpSec.RetentionDir)
		if err != nil {
			printFatal(err, "Opening retention store errored")
		}
		defer retention.Close()
	}

	if !conf.BpSec.Watch {
		waitSigint()
		return
	}

	stop := make(chan struct{})
	errChan := make(chan error, 1)
	go func() {
		errChan <- bpsec.WatchConfig(conf.BpSec.ConfigPath, registry, stop)
	}()

	go func() {
		waitSigint()
		close(stop)
	}()

	if err := <-errChan; err != nil {
		log.WithError(err).Error("Config watcher exited with error")
	}
}

// processCmd loads a bundle and actually drives it through the Outgoing or
// Incoming Processor (C6/C7) against the configured policy store, the one
// thing validate/show-config/serve never do.
func processCmd(args []string) {
	if len(args) != 4 {
		printUsage()
	}

	confPath, direction, inputPath, outputPath := args[0], args[1], args[2], args[3]

	conf, err := parseConfig(confPath)
	if err != nil {
		printFatal(err, "Reading bpsecctl configuration errored")
	}

	cfg, err := loadBpSecConfigFile(conf.BpSec.ConfigPath)
	if err != nil {
		printFatal(err, "Reading BpSec policy config errored")
	}

	loaded, err := bpsec.LoadFromConfig(cfg)
	if err != nil {
		printFatal(err, "Loading BpSec policy config errored")
	}

	registry := bpsec.NewRegistry(loaded, conf.BpSec.DefaultEventSet)
	snap := registry.Snapshot()
	ctx := bpsec.NewProcessingContext()

	var (
		in  io.ReadCloser
		b   bpv7.Bundle
		out io.WriteCloser
	)

	if inputPath == "-" {
		in = os.Stdin
	} else if in, err = os.Open(inputPath); err != nil {
		printFatal(err, "Opening input bundle errored")
	}
	if b, err = bpv7.ParseBundle(in); err != nil {
		printFatal(err, "Unmarshalling input bundle errored")
	}
	if err = in.Close(); err != nil {
		printFatal(err, "Closing input bundle errored")
	}

	switch direction {
	case "outgoing":
		localSource, err := parseLocalEID(conf.BpSec.LocalSecuritySource)
		if err != nil {
			printFatal(err, "Parsing bpsec.local-security-source errored")
		}

		if err := bpsec.ProcessOutgoing(&b, ctx, snap.Store, snap.SecurityContexts, localSource); err != nil {
			printFatal(err, "Outgoing BPSec processing errored")
		}
		log.WithField("bundle", b.ID()).Info("Outgoing BPSec processing complete")

	case "incoming":
		var retention *bpsec.RetentionStore
		if conf.BpSec.RetentionDir != "" {
			if retention, err = bpsec.NewRetentionStore(conf.BpSec.RetentionDir); err != nil {
				printFatal(err, "Opening retention store errored")
			}
			defer retention.Close()
		}

		result, err := bpsec.ProcessIncoming(&b, ctx, snap.Store, snap.SecurityContexts, snap.EventSets, retention, snap.DefaultEventSet)
		if err != nil {
			printFatal(err, "Incoming BPSec processing errored")
		}

		log.WithFields(log.Fields{
			"bundle":        b.ID(),
			"outcome":       result.Outcome,
			"undeliverable": result.Undeliverable,
			"reports":       len(result.Reports),
		}).Info("Incoming BPSec processing complete")

		if result.Outcome == bpsec.Drop {
			os.Exit(1)
		}

	default:
		printUsage()
	}

	if outputPath == "-" {
		out = os.Stdout
	} else if out, err = os.Create(outputPath); err != nil {
		printFatal(err, "Creating output bundle errored")
	}
	if err := b.WriteBundle(out); err != nil {
		printFatal(err, "Marshalling output bundle errored")
	}
	if err := out.Close(); err != nil {
		printFatal(err, "Closing output bundle errored")
	}
}

// waitSigint blocks the current thread until a SIGINT appears.
func waitSigint() {
	signalSyn := make(chan os.Signal, 1)
	signalAck := make(chan struct{})

	signal.Notify(signalSyn, os.Interrupt)

	go func() {
		<-signalSyn
		close(signalAck)
	}()

	<-signalAck
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
	}

	switch os.Args[1] {
	case "validate":
		validateCmd(os.Args[2:])
	case "show-config":
		showConfigCmd(os.Args[2:])
	case "serve":
		serveCmd(os.Args[2:])
	case "process":
		processCmd(os.Args[2:])
	default:
		printUsage()
	}
}
