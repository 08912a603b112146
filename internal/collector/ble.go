package collector

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tinygo.org/x/bluetooth"
)

// BLEScanner scans with the host's default Bluetooth adapter.
type BLEScanner struct {
	adapter *bluetooth.Adapter

	once      sync.Once
	enableErr error
}

func NewBLEScanner() *BLEScanner {
	return &BLEScanner{adapter: bluetooth.DefaultAdapter}
}

// Scan collects advertisements until d elapses or ctx is done.
func (s *BLEScanner) Scan(ctx context.Context, d time.Duration) ([]Advertisement, error) {
	s.once.Do(func() {
		s.enableErr = s.adapter.Enable()
	})
	if s.enableErr != nil {
		return nil, fmt.Errorf("enable adapter: %w", s.enableErr)
	}

	var (
		mu  sync.Mutex
		ads []Advertisement
	)

	done := make(chan error, 1)
	go func() {
		done <- s.adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
			elements := result.ManufacturerData()
			if len(elements) == 0 {
				return
			}
			data := make(map[uint16][]byte, len(elements))
			for _, el := range elements {
				data[el.CompanyID] = append([]byte(nil), el.Data...)
			}

			mu.Lock()
			ads = append(ads, Advertisement{Address: result.Address.String(), ManufacturerData: data})
			mu.Unlock()
		})
	}()

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case err := <-done:
		// Scan ended on its own, which only happens on adapter failure.
		if err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
	case <-timer.C:
		_ = s.adapter.StopScan()
		<-done
	case <-ctx.Done():
		_ = s.adapter.StopScan()
		<-done
		return nil, ctx.Err()
	}

	mu.Lock()
	defer mu.Unlock()
	return ads, nil
}
