package logger

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aws/aws-sdk-go-v2/aws"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

type componentStat struct {
	warns  int64
	errors int64
}

type streamStat struct {
	messages int64
	bytes    int64
}

var (
	components sync.Map // map[string]*componentStat
	streams    sync.Map // map[string]*streamStat
)

func recordWarn(component string) {
	v, _ := components.LoadOrStore(component, &componentStat{})
	atomic.AddInt64(&v.(*componentStat).warns, 1)
}

func recordError(component string) {
	v, _ := components.LoadOrStore(component, &componentStat{})
	atomic.AddInt64(&v.(*componentStat).errors, 1)
}

// RecordStreamMessage notes one inbound message of the given size for a
// named stream so the periodic report can show per-venue throughput.
func RecordStreamMessage(name string, size int) {
	v, _ := streams.LoadOrStore(name, &streamStat{})
	ss := v.(*streamStat)
	atomic.AddInt64(&ss.messages, 1)
	atomic.AddInt64(&ss.bytes, int64(size))
}

// StartReport begins periodic logging of system and stream statistics.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		for {
			select {
			case <-ctx.Done():
				ticker.Stop()
				return
			case <-ticker.C:
				logReport(ctx, log)
			}
		}
	}()
}

func logReport(ctx context.Context, log *Log) {
	cpuPercent, _ := cpu.Percent(0, false)
	memStats, _ := mem.VirtualMemory()

	cpuPct := 0.0
	if len(cpuPercent) > 0 {
		cpuPct = cpuPercent[0]
	}

	componentData := map[string]map[string]int64{}
	components.Range(func(k, v any) bool {
		cs := v.(*componentStat)
		componentData[k.(string)] = map[string]int64{
			"warns":  atomic.LoadInt64(&cs.warns),
			"errors": atomic.LoadInt64(&cs.errors),
		}
		return true
	})

	streamData := map[string]map[string]int64{}
	streams.Range(func(k, v any) bool {
		ss := v.(*streamStat)
		streamData[k.(string)] = map[string]int64{
			"messages": atomic.LoadInt64(&ss.messages),
			"bytes":    atomic.LoadInt64(&ss.bytes),
		}
		return true
	})

	memMB := int64(0)
	if memStats != nil {
		memMB = int64(memStats.Used) / 1024 / 1024
	}

	log.WithComponent("report").WithFields(Fields{
		"goroutines":  runtime.NumGoroutine(),
		"cpu_percent": cpuPct,
		"memory_mb":   memMB,
		"components":  componentData,
		"streams":     streamData,
	}).Info("runtime report")

	data := []cwtypes.MetricDatum{
		{MetricName: aws.String("CPUPercent"), Unit: cwtypes.StandardUnitPercent, Value: aws.Float64(cpuPct)},
		{MetricName: aws.String("MemoryMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(float64(memMB))},
		{MetricName: aws.String("Goroutines"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(runtime.NumGoroutine()))},
	}

	for name, stats := range streamData {
		data = append(data,
			cwtypes.MetricDatum{
				MetricName: aws.String("StreamMessages"),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: []cwtypes.Dimension{{Name: aws.String("Stream"), Value: aws.String(name)}},
				Value:      aws.Float64(float64(stats["messages"])),
			},
			cwtypes.MetricDatum{
				MetricName: aws.String("StreamBytes"),
				Unit:       cwtypes.StandardUnitBytes,
				Dimensions: []cwtypes.Dimension{{Name: aws.String("Stream"), Value: aws.String(name)}},
				Value:      aws.Float64(float64(stats["bytes"])),
			},
		)
	}

	for name, stats := range componentData {
		data = append(data, cwtypes.MetricDatum{
			MetricName: aws.String("ComponentErrors"),
			Unit:       cwtypes.StandardUnitCount,
			Dimensions: []cwtypes.Dimension{{Name: aws.String("Component"), Value: aws.String(name)}},
			Value:      aws.Float64(float64(stats["errors"])),
		})
	}

	publishMetrics(ctx, data)
}
