// Copyright (c) AIOBS Authors.
// Licensed under the MIT License.

/*
Package types provides the shared, dependency-free type contracts of the
guardrails service.

# Overview

types sits at the bottom of the import graph. guardrails, config, api and
cmd all depend on it and it depends on nothing internal, which keeps error
codes and request-scoped context keys in one place.

# Core types

  - Error / ErrorCode: structured error with HTTP status and Retryable flag
  - Context keys: WithTraceID / WithTenantID / WithUserID / WithRoles / WithModelID

# Helpers

  - GetErrorCode / IsRetryable walk the wrap chain with errors.As
*/
package types
