// Copyright (c) AIOBS Authors.
// Licensed under the MIT License.

/*
Package guardrails scans model input and output text for five threat
classes (prompt injection, jailbreak, data leaks, toxicity and bias) and
turns the findings into a single recommendation.

# Pipeline

An Engine is built from a Config and an optional set of Options:

	engine, err := guardrails.NewEngine(guardrails.DefaultConfig(),
		guardrails.WithLogger(logger),
		guardrails.WithObserver(collector),
	)

Engine.Evaluate runs the detectors of every requested class concurrently
under a time budget, applies conversation escalation to injection and
jailbreak, evaluates each class against its threshold ladder and picks the
most restrictive recommendation. Data-leak spans are masked and injection
spans sanitized in the rewritten text when the policy asks for it. Every
non-allow outcome is appended to the incident Recorder, which may forward
incidents to a durable IncidentSink.

# Detectors

Built-in detectors are regex rule sets compiled once with Go's RE2 engine,
so matching is linear in the input length. Custom detectors implement the
Detector interface and are added through a Registry; the toxicity score is
produced by a Scorer that can be swapped for a model-based classifier.
*/
package guardrails
