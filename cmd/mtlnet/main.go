// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// mtlnet trains the joint entity and relation extraction model on the corpora of a data directory.
//
// The data directory must hold a train.jsonl file, and optionally dev.jsonl and test.jsonl.
// Hyperparameters are set with -set, e.g.:
//
//	$ mtlnet -data=~/work/conll04 -set="recurrent_unit=lstm;mtl_hidden_dim=64;train_steps=10000"
package main

import (
	"flag"
	"fmt"
	"path/filepath"

	"github.com/gomlx/gomlx/pkg/support/exceptions"
	"github.com/gomlx/gomlx/ui/commandline"
	"github.com/janpfeifer/must"
	"github.com/mtlnet/mtlnet/mtl"
	"github.com/mtlnet/mtlnet/mtl/dataset"
	"k8s.io/klog/v2"

	_ "github.com/gomlx/gomlx/backends/default"
)

var (
	flagDataDir   = flag.String("data", "~/work/mtlnet", "Directory with the train.jsonl, dev.jsonl and test.jsonl corpora.")
	flagEval      = flag.Bool("eval", true, "Whether to evaluate the model on the dev and test corpora in the end.")
	flagVerbosity = flag.Int("verbosity", 1, "Level of verbosity, the higher the more verbose.")
	flagSummary   = flag.Bool("summary", false, "Print the entity and relation counts of the training corpus and exit.")
)

func main() {
	ctx := mtl.CreateDefaultContext()
	settings := commandline.CreateContextSettingsFlag(ctx, "")
	klog.InitFlags(nil)
	flag.Parse()
	paramsSet := must.M1(commandline.ParseContextSettings(ctx, *settings))
	err := exceptions.TryCatch[error](func() {
		if *flagSummary {
			sentences := must.M1(dataset.LoadCorpus(filepath.Join(*flagDataDir, mtl.TrainFile)))
			fmt.Println(dataset.Summary(sentences))
			return
		}
		mtl.TrainModel(ctx, *flagDataDir, paramsSet, *flagEval, *flagVerbosity)
	})
	if err != nil {
		klog.Fatalf("Failed with error: %+v", err)
	}
}
