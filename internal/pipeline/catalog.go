package pipeline

import "github.com/shaiso/neuroflow/internal/domain"

// port — сокращение для объявления портов каталога.
func port(name string, t domain.ArtifactType) Port {
	return Port{Name: name, Type: t}
}

// Builtin возвращает реестр со всеми встроенными семействами пайплайнов.
//
// Порядок регистрации: structural, pet, functional, diffusion,
// tractography, connectivity, ica. Он же задаёт порядок построения
// модальностей без взаимных зависимостей.
func Builtin() *Registry {
	r := NewRegistry()
	r.MustRegister(structuralTemplate())
	r.MustRegister(petTemplate())
	r.MustRegister(functionalTemplate())
	r.MustRegister(diffusionTemplate())
	r.MustRegister(tractographyTemplate())
	r.MustRegister(connectivityTemplate())
	r.MustRegister(icaTemplate())
	return r
}

// structuralTemplate — T1: N4, сегментация, нормализация в MNI, атлас в пространство субъекта.
func structuralTemplate() Template {
	return Template{
		Modality:  domain.ModalityStructural,
		RawInputs: []domain.ArtifactType{domain.ArtifactAnatRaw},
		External:  []domain.ArtifactType{domain.ArtifactAtlas},
		Slots: []Slot{
			{
				ID: "bias_correct",
				Variants: []Variant{{
					ID:      "n4",
					Step:    "ants.n4_bias_correction",
					Inputs:  []Port{port("image", domain.ArtifactAnatRaw)},
					Outputs: []Port{port("corrected", domain.ArtifactAnatBiasCorrected)},
				}},
			},
			{
				ID: "segment",
				Variants: []Variant{{
					ID:     "spm12",
					Step:   "spm.new_segment",
					Inputs: []Port{port("image", domain.ArtifactAnatBiasCorrected)},
					Outputs: []Port{
						port("tissues", domain.ArtifactAnatTissues),
						port("brain_mask", domain.ArtifactAnatBrainMask),
					},
				}},
			},
			{
				ID: "normalize",
				Variants: []Variant{{
					ID:   "spm12",
					Step: "spm.normalize12",
					Inputs: []Port{
						port("image", domain.ArtifactAnatBiasCorrected),
						port("tissues", domain.ArtifactAnatTissues),
					},
					Outputs: []Port{
						port("warped", domain.ArtifactAnatMNI),
						port("warp_field", domain.ArtifactAnatWarpField),
					},
					Params: []string{"anat.template"},
				}},
			},
			{
				ID:   "atlas",
				When: WhenFlagAndSupplied("normalize.atlas", domain.ArtifactAtlas),
				Variants: []Variant{{
					ID:   "inverse_warp",
					Step: "spm.apply_inverse_deformation",
					Inputs: []Port{
						port("atlas", domain.ArtifactAtlas),
						port("warp_field", domain.ArtifactAnatWarpField),
						port("reference", domain.ArtifactAnatBiasCorrected),
					},
					Outputs: []Port{port("atlas", domain.ArtifactAnatAtlas)},
					Static:  map[string]any{"interpolation": "nearest"},
				}},
			},
		},
		Provides: []domain.ArtifactType{
			domain.ArtifactAnatBiasCorrected,
			domain.ArtifactAnatTissues,
			domain.ArtifactAnatBrainMask,
			domain.ArtifactAnatWarpField,
			domain.ArtifactAnatMNI,
		},
		Final: domain.ArtifactAnatMNI,
	}
}

// petTemplate — ПЭТ: ко-регистрация (два порядка), PVC (три метода), нормализация.
func petTemplate() Template {
	coregPorts := []Port{
		port("pet", domain.ArtifactPETRaw),
		port("anat", domain.ArtifactAnatBiasCorrected),
		port("tissues", domain.ArtifactAnatTissues),
	}
	pvcIn := []Port{
		port("pet", domain.ArtifactPETCoreg),
		port("tissues", domain.ArtifactAnatTissues),
	}
	pvcOut := []Port{port("corrected", domain.ArtifactPETPVC)}

	return Template{
		Modality:  domain.ModalityPET,
		RawInputs: []domain.ArtifactType{domain.ArtifactPETRaw},
		Requires: []Dependency{
			{Modality: domain.ModalityStructural, Type: domain.ArtifactAnatBiasCorrected},
			{Modality: domain.ModalityStructural, Type: domain.ArtifactAnatTissues},
			{Modality: domain.ModalityStructural, Type: domain.ArtifactAnatWarpField},
		},
		Slots: []Slot{
			{
				ID:     "coreg",
				Select: BoolSwitch("coreg.anat2pet", "anat2pet", "pet2anat"),
				Variants: []Variant{
					{
						ID:      "anat2pet",
						Step:    "spm.coregister.anat2pet",
						Inputs:  coregPorts,
						Outputs: []Port{port("coregistered", domain.ArtifactPETCoreg)},
						Static:  map[string]any{"cost_function": "mi"},
					},
					{
						ID:      "pet2anat",
						Step:    "spm.coregister.pet2anat",
						Inputs:  coregPorts,
						Outputs: []Port{port("coregistered", domain.ArtifactPETCoreg)},
						Static:  map[string]any{"cost_function": "mi"},
					},
				},
			},
			{
				ID: "pvc",
				Select: EnumSwitch("pet.pvc", map[string]VariantID{
					"none": "none",
					"mg":   "muller_gartner",
					"rbv":  "rbv",
				}),
				Variants: []Variant{
					{ID: "none", Step: "neuroflow.passthrough", Inputs: pvcIn, Outputs: pvcOut},
					{ID: "muller_gartner", Step: "petpvc.mg", Inputs: pvcIn, Outputs: pvcOut, Params: []string{"pet.smooth_fwhm"}},
					{ID: "rbv", Step: "petpvc.rbv", Inputs: pvcIn, Outputs: pvcOut, Params: []string{"pet.smooth_fwhm"}},
				},
			},
			{
				ID: "normalize",
				Variants: []Variant{{
					ID:   "spm12",
					Step: "spm.apply_deformation",
					Inputs: []Port{
						port("image", domain.ArtifactPETPVC),
						port("warp_field", domain.ArtifactAnatWarpField),
					},
					Outputs: []Port{port("warped", domain.ArtifactPETMNI)},
				}},
			},
		},
		Provides: []domain.ArtifactType{domain.ArtifactPETPVC, domain.ArtifactPETMNI},
		Final:    domain.ArtifactPETMNI,
		Group: &GroupSpec{
			Flag:             "pet.group_template",
			TemplateFile:     "pet.group_template_file",
			TailSlot:         "normalize",
			IntermediateType: domain.ArtifactPETIntermediate,
			TemplateType:     domain.ArtifactPETTemplate,
			ScatterStep:      "fsl.flirt_affine",
			AggregateStep:    "neuroflow.group_template",
			RenormStep:       "ants.register_to_template",
			AggregateParams:  []string{"group.smooth_fwhm"},
		},
	}
}

// functionalTemplate — rs-fMRI: коррекция движения, ко-регистрация, очистка, нормализация.
func functionalTemplate() Template {
	coregIn := []Port{
		port("bold", domain.ArtifactFMRIMotion),
		port("anat", domain.ArtifactAnatBiasCorrected),
	}
	coregOut := []Port{port("coregistered", domain.ArtifactFMRICoreg)}

	return Template{
		Modality:  domain.ModalityFunctional,
		RawInputs: []domain.ArtifactType{domain.ArtifactFMRIRaw},
		Requires: []Dependency{
			{Modality: domain.ModalityStructural, Type: domain.ArtifactAnatBiasCorrected},
			{Modality: domain.ModalityStructural, Type: domain.ArtifactAnatTissues},
			{Modality: domain.ModalityStructural, Type: domain.ArtifactAnatBrainMask},
			{Modality: domain.ModalityStructural, Type: domain.ArtifactAnatWarpField},
		},
		Slots: []Slot{
			{
				ID: "motion",
				Variants: []Variant{{
					ID:      "mcflirt",
					Step:    "fsl.mcflirt",
					Inputs:  []Port{port("bold", domain.ArtifactFMRIRaw)},
					Outputs: []Port{port("corrected", domain.ArtifactFMRIMotion)},
				}},
			},
			{
				ID:     "coreg",
				Select: BoolSwitch("coreg.anat2rest", "anat2rest", "rest2anat"),
				Variants: []Variant{
					{ID: "anat2rest", Step: "spm.coregister.anat2rest", Inputs: coregIn, Outputs: coregOut},
					{ID: "rest2anat", Step: "spm.coregister.rest2anat", Inputs: coregIn, Outputs: coregOut},
				},
			},
			{
				ID: "clean",
				Variants: []Variant{{
					ID:   "nuisance",
					Step: "neuroflow.nuisance_filter",
					Inputs: []Port{
						port("bold", domain.ArtifactFMRICoreg),
						port("tissues", domain.ArtifactAnatTissues),
						port("mask", domain.ArtifactAnatBrainMask),
					},
					Outputs: []Port{port("clean", domain.ArtifactFMRIClean)},
					Params: []string{
						"fmri.smooth_fwhm",
						"fmri.lowpass_freq",
						"fmri.highpass_freq",
						"fmri.regress_poly",
					},
				}},
			},
			{
				ID: "normalize",
				Variants: []Variant{{
					ID:   "spm12",
					Step: "spm.apply_deformation",
					Inputs: []Port{
						port("image", domain.ArtifactFMRIClean),
						port("warp_field", domain.ArtifactAnatWarpField),
					},
					Outputs: []Port{port("warped", domain.ArtifactFMRIMNI)},
				}},
			},
		},
		Provides: []domain.ArtifactType{domain.ArtifactFMRIClean, domain.ArtifactFMRIMNI},
		Final:    domain.ArtifactFMRIMNI,
		Group: &GroupSpec{
			Flag:             "functional.group_template",
			TemplateFile:     "functional.group_template_file",
			TailSlot:         "normalize",
			IntermediateType: domain.ArtifactFMRIIntermediate,
			TemplateType:     domain.ArtifactFMRITemplate,
			ScatterStep:      "fsl.flirt_affine",
			AggregateStep:    "neuroflow.group_template",
			RenormStep:       "ants.register_to_template",
			AggregateParams:  []string{"group.smooth_fwhm"},
		},
	}
}

// diffusionTemplate — DTI: acqp, b0, ко-регистрация, eddy, dtifit, нормализация FA.
func diffusionTemplate() Template {
	coregIn := []Port{
		port("b0", domain.ArtifactDWIB0),
		port("anat", domain.ArtifactAnatBiasCorrected),
		port("mask", domain.ArtifactAnatBrainMask),
	}
	coregOut := []Port{port("brain_mask", domain.ArtifactDWICoreg)}

	return Template{
		Modality: domain.ModalityDiffusion,
		RawInputs: []domain.ArtifactType{
			domain.ArtifactDWIRaw,
			domain.ArtifactDWIBval,
			domain.ArtifactDWIBvec,
		},
		Requires: []Dependency{
			{Modality: domain.ModalityStructural, Type: domain.ArtifactAnatBiasCorrected},
			{Modality: domain.ModalityStructural, Type: domain.ArtifactAnatBrainMask},
			{Modality: domain.ModalityStructural, Type: domain.ArtifactAnatWarpField},
		},
		Slots: []Slot{
			{
				ID: "acqp",
				Variants: []Variant{{
					ID:      "write",
					Step:    "neuroflow.write_acqp",
					Inputs:  []Port{port("bval", domain.ArtifactDWIBval)},
					Outputs: []Port{port("acqp", domain.ArtifactDWIAcqp)},
				}},
			},
			{
				ID: "extract_b0",
				Variants: []Variant{{
					ID:   "fslroi",
					Step: "fsl.extract_b0",
					Inputs: []Port{
						port("dwi", domain.ArtifactDWIRaw),
						port("bval", domain.ArtifactDWIBval),
					},
					Outputs: []Port{port("b0", domain.ArtifactDWIB0)},
				}},
			},
			{
				ID:     "coreg",
				Select: BoolSwitch("coreg.anat2dwi", "anat2dwi", "dwi2anat"),
				Variants: []Variant{
					{ID: "anat2dwi", Step: "spm.coregister.anat2dwi", Inputs: coregIn, Outputs: coregOut, Static: map[string]any{"cost_function": "mi"}},
					{ID: "dwi2anat", Step: "spm.coregister.dwi2anat", Inputs: coregIn, Outputs: coregOut, Static: map[string]any{"cost_function": "mi"}},
				},
			},
			{
				ID: "eddy",
				Variants: []Variant{{
					ID:   "fsl",
					Step: "fsl.eddy",
					Inputs: []Port{
						port("dwi", domain.ArtifactDWIRaw),
						port("bval", domain.ArtifactDWIBval),
						port("bvec", domain.ArtifactDWIBvec),
						port("acqp", domain.ArtifactDWIAcqp),
						port("mask", domain.ArtifactDWICoreg),
					},
					Outputs: []Port{port("corrected", domain.ArtifactDWIEddy)},
					Params:  []string{"dwi.nthreads"},
				}},
			},
			{
				ID: "dtifit",
				Variants: []Variant{{
					ID:   "fsl",
					Step: "fsl.dtifit",
					Inputs: []Port{
						port("dwi", domain.ArtifactDWIEddy),
						port("bval", domain.ArtifactDWIBval),
						port("bvec", domain.ArtifactDWIBvec),
						port("mask", domain.ArtifactDWICoreg),
					},
					Outputs: []Port{port("fa", domain.ArtifactDWITensor)},
				}},
			},
			{
				ID: "normalize",
				Variants: []Variant{{
					ID:   "spm12",
					Step: "spm.apply_deformation",
					Inputs: []Port{
						port("image", domain.ArtifactDWITensor),
						port("warp_field", domain.ArtifactAnatWarpField),
					},
					Outputs: []Port{port("warped", domain.ArtifactDWIMNI)},
				}},
			},
		},
		Provides: []domain.ArtifactType{
			domain.ArtifactDWIEddy,
			domain.ArtifactDWICoreg,
			domain.ArtifactDWITensor,
			domain.ArtifactDWIMNI,
		},
		Final: domain.ArtifactDWIMNI,
		Group: &GroupSpec{
			Flag:             "diffusion.group_template",
			TemplateFile:     "diffusion.group_template_file",
			TailSlot:         "normalize",
			IntermediateType: domain.ArtifactDWIIntermediate,
			TemplateType:     domain.ArtifactDWITemplate,
			ScatterStep:      "fsl.flirt_affine",
			AggregateStep:    "neuroflow.group_template",
			RenormStep:       "ants.register_to_template",
			AggregateParams:  []string{"group.smooth_fwhm"},
		},
	}
}

// tractographyTemplate — CSD и генерация треков по данным DTI.
func tractographyTemplate() Template {
	return Template{
		Modality:  domain.ModalityTractography,
		OptIn:     true,
		RawInputs: []domain.ArtifactType{domain.ArtifactDWIBval, domain.ArtifactDWIBvec},
		Requires: []Dependency{
			{Modality: domain.ModalityStructural, Type: domain.ArtifactAnatTissues},
			{Modality: domain.ModalityDiffusion, Type: domain.ArtifactDWIEddy},
			{Modality: domain.ModalityDiffusion, Type: domain.ArtifactDWICoreg},
		},
		Slots: []Slot{
			{
				ID: "response",
				Variants: []Variant{{
					ID:   "csd",
					Step: "mrtrix.dwi2fod",
					Inputs: []Port{
						port("dwi", domain.ArtifactDWIEddy),
						port("bval", domain.ArtifactDWIBval),
						port("bvec", domain.ArtifactDWIBvec),
						port("mask", domain.ArtifactDWICoreg),
					},
					Outputs: []Port{port("fod", domain.ArtifactTractFOD)},
				}},
			},
			{
				ID: "track",
				Variants: []Variant{{
					ID:   "tckgen",
					Step: "mrtrix.tckgen",
					Inputs: []Port{
						port("fod", domain.ArtifactTractFOD),
						port("tissues", domain.ArtifactAnatTissues),
					},
					Outputs: []Port{port("streamlines", domain.ArtifactTractStreamlines)},
					Params:  []string{"tract.n_tracks"},
				}},
			},
		},
		Provides: []domain.ArtifactType{domain.ArtifactTractStreamlines},
		Final:    domain.ArtifactTractStreamlines,
	}
}

// connectivityTemplate — парцелляция атласом и матрица связности по трекам.
func connectivityTemplate() Template {
	return Template{
		Modality: domain.ModalityConnectivity,
		OptIn:    true,
		External: []domain.ArtifactType{domain.ArtifactAtlas},
		Requires: []Dependency{
			{Modality: domain.ModalityStructural, Type: domain.ArtifactAnatBiasCorrected},
			{Modality: domain.ModalityStructural, Type: domain.ArtifactAnatWarpField},
			{Modality: domain.ModalityTractography, Type: domain.ArtifactTractStreamlines},
		},
		Slots: []Slot{
			{
				ID: "parcellate",
				Variants: []Variant{{
					ID:   "inverse_warp",
					Step: "spm.apply_inverse_deformation",
					Inputs: []Port{
						port("atlas", domain.ArtifactAtlas),
						port("warp_field", domain.ArtifactAnatWarpField),
						port("reference", domain.ArtifactAnatBiasCorrected),
					},
					Outputs: []Port{port("parcellation", domain.ArtifactConnParcellation)},
					Static:  map[string]any{"interpolation": "nearest"},
				}},
			},
			{
				ID: "matrix",
				Variants: []Variant{{
					ID:   "tck2connectome",
					Step: "mrtrix.tck2connectome",
					Inputs: []Port{
						port("streamlines", domain.ArtifactTractStreamlines),
						port("parcellation", domain.ArtifactConnParcellation),
					},
					Outputs: []Port{port("matrix", domain.ArtifactConnMatrix)},
				}},
			},
		},
		Provides: []domain.ArtifactType{domain.ArtifactConnMatrix},
		Final:    domain.ArtifactConnMatrix,
	}
}

// icaTemplate — анализ независимых компонент с выбором алгоритма.
func icaTemplate() Template {
	in := []Port{
		port("bold", domain.ArtifactFMRIMNI),
	}
	out := []Port{
		port("components", domain.ArtifactICAComponents),
		port("loadings", domain.ArtifactICALoadings),
	}

	return Template{
		Modality: domain.ModalityICA,
		OptIn:    true,
		Requires: []Dependency{
			{Modality: domain.ModalityFunctional, Type: domain.ArtifactFMRIMNI},
		},
		Slots: []Slot{
			{
				ID: "decompose",
				Select: EnumSwitch("ica.algorithm", map[string]VariantID{
					"canica":       "canica",
					"dictlearning": "dictlearning",
					"fastica":      "fastica",
					"infomax":      "infomax",
				}),
				Variants: []Variant{
					{ID: "canica", Step: "nilearn.canica", Inputs: in, Outputs: out, Static: map[string]any{"n_components": 20}},
					{ID: "dictlearning", Step: "nilearn.dict_learning", Inputs: in, Outputs: out, Static: map[string]any{"n_components": 20}},
					{ID: "fastica", Step: "sklearn.fastica", Inputs: in, Outputs: out, Static: map[string]any{"n_components": 20}},
					{ID: "infomax", Step: "mne.infomax", Inputs: in, Outputs: out, Static: map[string]any{"n_components": 20}},
				},
			},
		},
		Provides: []domain.ArtifactType{domain.ArtifactICAComponents},
		Final:    domain.ArtifactICAComponents,
	}
}
