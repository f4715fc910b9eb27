// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const defaultNamespace = "backlot"

type mOpts struct {
	name      string
	help      string
	namespace *string
	labels    map[string]string
	buckets   []float64
}

type OptsFunc func(*mOpts)

// WithNamespace overrides the default metric namespace.
func WithNamespace(ns string) OptsFunc {
	return func(o *mOpts) {
		o.namespace = &ns
	}
}

// WithConstLabels attaches constant labels to every sample.
func WithConstLabels(labels map[string]string) OptsFunc {
	return func(o *mOpts) {
		o.labels = labels
	}
}

// WithBuckets sets histogram buckets.
func WithBuckets(buckets []float64) OptsFunc {
	return func(o *mOpts) {
		o.buckets = buckets
	}
}

func (o *mOpts) getNamespace() string {
	if o.namespace != nil {
		return *o.namespace
	}
	return defaultNamespace
}

func (o *mOpts) GetCounterOpts() prometheus.CounterOpts {
	return prometheus.CounterOpts{
		Namespace:   o.getNamespace(),
		Name:        o.name + "_c",
		Help:        o.help + " (counters)",
		ConstLabels: o.labels,
	}
}

func (o *mOpts) GetGaugeOpts() prometheus.GaugeOpts {
	return prometheus.GaugeOpts{
		Namespace:   o.getNamespace(),
		Name:        o.name + "_g",
		Help:        o.help + " (gauges)",
		ConstLabels: o.labels,
	}
}

func (o *mOpts) GetHistogramOpts() prometheus.HistogramOpts {
	buckets := o.buckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}
	return prometheus.HistogramOpts{
		Namespace:   o.getNamespace(),
		Name:        o.name + "_h",
		Help:        o.help + " (histograms)",
		ConstLabels: o.labels,
		Buckets:     buckets,
	}
}
