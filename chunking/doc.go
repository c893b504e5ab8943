// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package chunking splits text into ordered, overlapping chunks.
//
// A Chunker measures length in runes. Each chunk is at most the configured
// size. When a window has to be cut before the end of the text, the cut snaps
// back to the last natural break inside the window, preferring paragraph
// breaks, then line breaks, then sentence ends, then whitespace. Only when no
// break would leave a chunk longer than the overlap is a hard cut made.
//
// Consecutive chunks share exactly the configured overlap. Once a window
// reaches the end of the text the start advances by size minus overlap, which
// can emit one trailing tail chunk that repeats the end of the text:
//
//	c, _ := chunking.New(1000, 200)
//	c.Spans(strings.Repeat("a", 2500))
//	// [0,1000) [800,1800) [1600,2500) [2400,2500)
package chunking
