package backtest

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/rs/zerolog/log"

	"swingbot/internal/ledger"
	"swingbot/internal/md"
	"swingbot/internal/monitor"
)

// ReadBars loads one symbol's historical file of
// (date, open, high, low, close, volume) rows. A leading header row is
// tolerated and skipped.
func ReadBars(path, symbol string) ([]md.Bar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader := csv.NewReader(f)
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	bars := make([]md.Bar, 0, len(records))
	for i, record := range records {
		if len(record) != 6 {
			return nil, fmt.Errorf("%s row %d: expected 6 columns, got %d", path, i+1, len(record))
		}
		bar, err := parseBar(record, symbol)
		if err != nil {
			if i == 0 {
				continue // header row
			}
			return nil, fmt.Errorf("%s row %d: %w", path, i+1, err)
		}
		bars = append(bars, bar)
	}
	return bars, nil
}

func parseBar(record []string, symbol string) (md.Bar, error) {
	fields := make([]float64, 5)
	for i, raw := range record[1:] {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return md.Bar{}, err
		}
		fields[i] = v
	}
	return md.Bar{
		Symbol: symbol,
		Open:   fields[0],
		High:   fields[1],
		Low:    fields[2],
		Close:  fields[3],
		Volume: fields[4],
	}, nil
}

// Run replays every monitor against its historical file under dataDir
// (SYMBOL.csv), all sharing one virtual ledger, and reports the total made.
func Run(dataDir string, monitors []*monitor.Monitor, led *ledger.Ledger) float64 {
	starting := led.Cash()
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		total float64
	)

	for _, mon := range monitors {
		wg.Add(1)
		go func(mon *monitor.Monitor) {
			defer wg.Done()

			path := filepath.Join(dataDir, mon.Symbol()+".csv")
			bars, err := ReadBars(path, mon.Symbol())
			if err != nil {
				log.Error().Err(err).Str("symbol", mon.Symbol()).Msg("no backtest data, skipping")
				return
			}

			profit := mon.Backtest(led, bars)
			mu.Lock()
			total += profit
			mu.Unlock()
		}(mon)
	}
	wg.Wait()

	log.Info().Float64("ending_currency", led.Cash()).
		Float64("profit", led.Cash()-starting).Msg("backtest complete")
	return total
}
