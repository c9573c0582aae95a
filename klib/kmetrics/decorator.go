package kmetrics

import (
	"context"
	"time"

	"github.com/xinkaiwang/goraylet/klib/kerror"
	"github.com/xinkaiwang/goraylet/klib/klogging"
)

var (
	OpsLatencyMetric = CreateKmetric(context.Background(), "op_latency_ms", "api op latency", []string{"method", "status", "error", "notes"})
)

// FuncTypeVoid is a function being decorated.
// When an error happens, this func should throw (panic), that's why this func doesn't return an error.
type FuncTypeVoid func()

func invokeFuncVoid(ctx context.Context, ef FuncTypeVoid) (ke *kerror.Kerror) {
	defer func() {
		if r := recover(); r != nil {
			switch v := r.(type) {
			case *kerror.Kerror:
				ke = v
			case error:
				ke = kerror.Create("InternalServerError", v.Error()).
					WithErrorCode(kerror.EC_UNKNOWN)
			default:
				// 非错误的 panic 值，记录 fatal 日志并退出
				klogging.Fatal(ctx).WithPanic(v).Log("InvalidPanic", "invalid panic with non-error value")
			}
		}
	}()
	ef()
	return
}

// InstrumentSummaryRunVoid: helper function for adding metrics coverage for a function that returns void.
func InstrumentSummaryRunVoid(ctx context.Context, method string, ef FuncTypeVoid, customNotes string) {
	tagStatus := "OK"
	var tagError string

	startTime := time.Now()
	ke := invokeFuncVoid(ctx, ef)
	timeSpentMs := time.Since(startTime).Milliseconds()

	if ke != nil {
		tagStatus = "ERROR"
		tagError = ke.Type
	}

	OpsLatencyMetric.GetTimeSequence(ctx, method, tagStatus, tagError, customNotes).Add(timeSpentMs)
	if ke != nil {
		panic(ke)
	}
}
