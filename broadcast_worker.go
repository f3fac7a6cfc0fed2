package main

import (
	"context"
	"log"
)

// broadcastWorker receives sensor maps from the poller and fans them out to
// the downstream workers with non-blocking sends, so a stuck consumer cannot
// stall the poll cycle.
func broadcastWorker(ctx context.Context, inputChan <-chan map[string]Sensor, outputChans []chan<- map[string]Sensor) {
	for {
		select {
		case sensors := <-inputChan:
			for i, ch := range outputChans {
				select {
				case ch <- sensors:
				case <-ctx.Done():
					return
				default:
					log.Printf("Warning: downstream worker %d channel full, dropping update\n", i)
				}
			}

		case <-ctx.Done():
			return
		}
	}
}
