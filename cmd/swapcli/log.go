package main

import (
	"fmt"
	"os"
	"strings"

	btclogv1 "github.com/btcsuite/btclog"
	"github.com/btcsuite/btclog/v2"
	"github.com/lightninglabs/lndclient"
	"github.com/lightninglabs/subswap"
	"github.com/lightninglabs/subswap/chainwatch"
	"github.com/lightninglabs/subswap/electrum"
	"github.com/lightninglabs/subswap/lndbackend"
	"github.com/lightninglabs/subswap/spv"
	"github.com/lightninglabs/subswap/swapdb"
	"github.com/lightninglabs/subswap/swapserver"
)

// subLoggers maps each subsystem to the setter of its package logger.
var subLoggers = map[string]func(btclog.Logger){
	subswap.Subsystem:    subswap.UseLogger,
	swapdb.Subsystem:     swapdb.UseLogger,
	spv.Subsystem:        spv.UseLogger,
	electrum.Subsystem:   electrum.UseLogger,
	swapserver.Subsystem: swapserver.UseLogger,
	chainwatch.Subsystem: chainwatch.UseLogger,
	lndbackend.Subsystem: lndbackend.UseLogger,
	"LNDC":               lndclient.UseLogger,
}

// setupLogging writes all subsystems to stderr at the levels given by
// debugLevel, either a single level or a list of subsystem=level pairs.
func setupLogging(debugLevel string) error {
	root := btclog.NewSLogger(btclog.NewDefaultHandler(os.Stderr))

	levels, err := parseLevels(debugLevel)
	if err != nil {
		return err
	}

	for subsystem, useLogger := range subLoggers {
		logger := root.SubSystem(subsystem)

		level, ok := levels[subsystem]
		if !ok {
			level = levels[""]
		}
		logger.SetLevel(level)

		useLogger(logger)
	}

	return nil
}

// parseLevels parses a debug level string. The empty key holds the level
// of subsystems not listed.
func parseLevels(debugLevel string) (map[string]btclogv1.Level, error) {
	levels := map[string]btclogv1.Level{"": btclog.LevelInfo}

	for _, part := range strings.Split(debugLevel, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		subsystem, levelStr, found := strings.Cut(part, "=")
		if !found {
			subsystem, levelStr = "", part
		}

		if _, ok := subLoggers[subsystem]; subsystem != "" && !ok {
			return nil, fmt.Errorf("unknown subsystem %q", subsystem)
		}

		level, ok := btclog.LevelFromString(levelStr)
		if !ok {
			return nil, fmt.Errorf("invalid log level %q", levelStr)
		}

		levels[subsystem] = level
	}

	return levels, nil
}
