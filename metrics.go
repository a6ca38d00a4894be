/*
Copyright 2023 Alexander Bartolomey (github@alexanderbartolomey.de)

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package ipfix

import "github.com/prometheus/client_golang/prometheus"

// Message/Set/Record-level metrics. MessagesTotal, MessageErrorsTotal and
// DecodedSets are incremented by MessageBuffer.Emit and
// MessageBuffer.NextMessage; MessageProcessingSeconds and DecodedRecords
// are declared but nothing in this package updates them.
var (
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ipfix_messages_total",
		Help: "Total number of IPFIX Messages processed, by direction",
	}, []string{"direction"})
	MessageErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ipfix_message_errors_total",
		Help: "Total number of errors encountered while processing IPFIX Messages, by kind",
	}, []string{"kind"})
	MessageProcessingSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "ipfix_message_processing_seconds",
		Help:    "Time spent encoding or decoding a single IPFIX Message",
		Buckets: prometheus.DefBuckets,
	})
	DecodedSets = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ipfix_decoded_sets_total",
		Help: "Total number of decoded Sets by kind (template, options-template, data)",
	}, []string{"kind"})
	DecodedRecords = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ipfix_decoded_records_total",
		Help: "Total number of decoded Data Records by template id",
	}, []string{"template_id"})
)

// Template/Session-level metrics.
var (
	TemplatesActive = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ipfix_templates_active",
		Help: "Number of currently registered (external or internal) templates",
	}, []string{"scope"})
	TemplateWithdrawalsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ipfix_template_withdrawals_total",
		Help: "Total number of Template Records received that withdrew a template",
	})
	AlienElementsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ipfix_alien_elements_total",
		Help: "Number of Information Elements synthesized for unknown (enterprise, id) pairs",
	})
	ElementTypesLearnedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ipfix_element_types_learned_total",
		Help: "Total number of Information Elements learned from RFC 5610 Options Data Records",
	})
)
