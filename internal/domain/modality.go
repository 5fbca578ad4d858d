package domain

// Modality — семейство пайплайнов (тип данных визуализации).
//
// Каждая модальность соответствует одному шаблону пайплайна в реестре.
// Часть модальностей требует сырых данных субъекта (structural, pet,
// functional, diffusion), остальные строятся поверх результатов других.
type Modality string

const (
	// ModalityStructural — анатомическая T1 обработка.
	ModalityStructural Modality = "structural"

	// ModalityPET — обработка ПЭТ.
	ModalityPET Modality = "pet"

	// ModalityFunctional — resting-state fMRI.
	ModalityFunctional Modality = "functional"

	// ModalityDiffusion — диффузионная МРТ (DTI).
	ModalityDiffusion Modality = "diffusion"

	// ModalityTractography — трактография по DTI.
	ModalityTractography Modality = "tractography"

	// ModalityConnectivity — матрицы связности по трактографии.
	ModalityConnectivity Modality = "connectivity"

	// ModalityICA — анализ независимых компонент по fMRI.
	ModalityICA Modality = "ica"
)

// AllModalities — все известные модальности в каноническом порядке.
var AllModalities = []Modality{
	ModalityStructural,
	ModalityPET,
	ModalityFunctional,
	ModalityDiffusion,
	ModalityTractography,
	ModalityConnectivity,
	ModalityICA,
}

// IsValid возвращает true для известной модальности.
func (m Modality) IsValid() bool {
	for _, known := range AllModalities {
		if m == known {
			return true
		}
	}
	return false
}

// String возвращает строковое представление Modality.
func (m Modality) String() string {
	return string(m)
}

// ArtifactType — семантический тип артефакта ("bias-corrected volume", "warp field"...).
type ArtifactType string

// Типы артефактов встроенных пайплайнов.
const (
	// Сырые данные субъекта.
	ArtifactAnatRaw ArtifactType = "anat.raw"
	ArtifactPETRaw  ArtifactType = "pet.raw"
	ArtifactFMRIRaw ArtifactType = "fmri.raw"
	ArtifactDWIRaw  ArtifactType = "dwi.raw"
	ArtifactDWIBval ArtifactType = "dwi.bval"
	ArtifactDWIBvec ArtifactType = "dwi.bvec"

	// Внешние файлы когорты.
	ArtifactAtlas ArtifactType = "atlas.file"

	// Structural.
	ArtifactAnatBiasCorrected ArtifactType = "anat.bias_corrected"
	ArtifactAnatTissues       ArtifactType = "anat.tissues"
	ArtifactAnatBrainMask     ArtifactType = "anat.brain_mask"
	ArtifactAnatWarpField     ArtifactType = "anat.warp_field"
	ArtifactAnatMNI           ArtifactType = "anat.mni"
	ArtifactAnatAtlas         ArtifactType = "anat.atlas"

	// PET.
	ArtifactPETCoreg        ArtifactType = "pet.coreg"
	ArtifactPETPVC          ArtifactType = "pet.pvc"
	ArtifactPETIntermediate ArtifactType = "pet.intermediate"
	ArtifactPETTemplate     ArtifactType = "pet.template"
	ArtifactPETMNI          ArtifactType = "pet.mni"

	// Functional.
	ArtifactFMRIMotion       ArtifactType = "fmri.motion"
	ArtifactFMRICoreg        ArtifactType = "fmri.coreg"
	ArtifactFMRIClean        ArtifactType = "fmri.clean"
	ArtifactFMRIIntermediate ArtifactType = "fmri.intermediate"
	ArtifactFMRITemplate     ArtifactType = "fmri.template"
	ArtifactFMRIMNI          ArtifactType = "fmri.mni"

	// Diffusion.
	ArtifactDWIAcqp         ArtifactType = "dwi.acqp"
	ArtifactDWIB0           ArtifactType = "dwi.b0"
	ArtifactDWICoreg        ArtifactType = "dwi.coreg"
	ArtifactDWIEddy         ArtifactType = "dwi.eddy"
	ArtifactDWITensor       ArtifactType = "dwi.tensor"
	ArtifactDWIIntermediate ArtifactType = "dwi.intermediate"
	ArtifactDWITemplate     ArtifactType = "dwi.template"
	ArtifactDWIMNI          ArtifactType = "dwi.mni"

	// Tractography / connectivity / ICA.
	ArtifactTractFOD         ArtifactType = "tract.fod"
	ArtifactTractStreamlines ArtifactType = "tract.streamlines"
	ArtifactConnParcellation ArtifactType = "conn.parcellation"
	ArtifactConnMatrix       ArtifactType = "conn.matrix"
	ArtifactICAComponents    ArtifactType = "ica.components"
	ArtifactICALoadings      ArtifactType = "ica.loadings"
)

// Scope — область видимости артефакта.
type Scope string

const (
	// ScopeSubject — артефакт одного субъекта.
	ScopeSubject Scope = "subject"

	// ScopeCohort — артефакт всей когорты (групповой шаблон, атлас).
	ScopeCohort Scope = "cohort"
)
