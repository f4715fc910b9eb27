// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

// Package metrics wraps prometheus client vectors behind a namespaced
// constructor so every collector registers itself at construction.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

type CounterVec struct {
	counters *prometheus.CounterVec
}

func NewCounterVec(metricsName, help string, labels []string, opts ...OptsFunc) *CounterVec {
	opt := &mOpts{name: metricsName, help: help}
	for _, optsFunc := range opts {
		optsFunc(opt)
	}
	cc := prometheus.NewCounterVec(opt.GetCounterOpts(), labels)
	prometheus.MustRegister(cc)
	return &CounterVec{counters: cc}
}

func (self *CounterVec) Inc(labels ...string) {
	self.counters.WithLabelValues(labels...).Inc()
}

func (self *CounterVec) Add(count float64, labels ...string) {
	self.counters.WithLabelValues(labels...).Add(count)
}

type GaugeVec struct {
	gauges *prometheus.GaugeVec
}

func NewGaugeVec(metricsName, help string, labels []string, opts ...OptsFunc) *GaugeVec {
	opt := &mOpts{name: metricsName, help: help}
	for _, optsFunc := range opts {
		optsFunc(opt)
	}
	cc := prometheus.NewGaugeVec(opt.GetGaugeOpts(), labels)
	prometheus.MustRegister(cc)
	return &GaugeVec{gauges: cc}
}

func (self *GaugeVec) Set(v float64, labels ...string) {
	self.gauges.WithLabelValues(labels...).Set(v)
}

func (self *GaugeVec) Inc(labels ...string) {
	self.gauges.WithLabelValues(labels...).Inc()
}

func (self *GaugeVec) Dec(labels ...string) {
	self.gauges.WithLabelValues(labels...).Dec()
}

func (self *GaugeVec) Delete(labels ...string) {
	self.gauges.DeleteLabelValues(labels...)
}

type HistogramVec struct {
	histogram *prometheus.HistogramVec
}

func NewHistogramVec(metricsName, help string, labels []string, opts ...OptsFunc) *HistogramVec {
	opt := &mOpts{name: metricsName, help: help}
	for _, optsFunc := range opts {
		optsFunc(opt)
	}
	cc := prometheus.NewHistogramVec(opt.GetHistogramOpts(), labels)
	prometheus.MustRegister(cc)
	return &HistogramVec{histogram: cc}
}

func (self *HistogramVec) Observe(v float64, labels ...string) {
	self.histogram.WithLabelValues(labels...).Observe(v)
}
