// SPDX-FileCopyrightText: Copyright 2025 EagleChat Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import "errors"

// ErrUnavailable is returned when the persistence layer cannot be
// reached. It surfaces as a generic 500 with a retry hint; domain errors
// are defined alongside their types in pkg/tenant.
var ErrUnavailable = errors.New("store unavailable")
